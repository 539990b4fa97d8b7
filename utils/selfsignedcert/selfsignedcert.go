/*
Copyright 2026-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package selfsignedcert generates throwaway certificates for test nodes and
// for probing them over TLS.
package selfsignedcert

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/pkg/errors"
)

var defaultHosts = []string{"localhost", "127.0.0.1", "::1"}

// GenerateCertificate creates a certificate valid for the given hosts, which
// may be host names or IP addresses.  Without hosts the certificate covers the
// loopback names.
func GenerateCertificate(hosts ...string) (*tls.Certificate, error) {
	if len(hosts) == 0 {
		hosts = defaultHosts
	}

	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate private key")
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal private key")
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate serial number")
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"stellar-topology test node"},
			CommonName:   hosts[0],
		},

		NotBefore: time.Now().Add(-time.Minute),
		NotAfter:  time.Now().Add(7 * 24 * time.Hour),

		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create certificate")
	}

	keyBuf := bytes.NewBuffer(nil)
	err = pem.Encode(keyBuf, &pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	if err != nil {
		return nil, errors.Wrap(err, "failed to write key pem data")
	}

	certBuf := bytes.NewBuffer(nil)
	err = pem.Encode(certBuf, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	if err != nil {
		return nil, errors.Wrap(err, "failed to write cert pem data")
	}

	cert, err := tls.X509KeyPair(certBuf.Bytes(), keyBuf.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "failed to produce tls certificate")
	}

	cert.Leaf, err = x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse generated certificate")
	}

	return &cert, nil
}

// CertPool returns a pool which trusts cert, for clients of a node using it.
func CertPool(cert *tls.Certificate) (*x509.CertPool, error) {
	if cert == nil || len(cert.Certificate) == 0 {
		return nil, errors.New("certificate is empty")
	}

	leaf := cert.Leaf
	if leaf == nil {
		var err error
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse certificate")
		}
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return pool, nil
}
