package cluster

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSBundle agrupa los configs de servidor y cliente para mTLS entre nodos.
type TLSBundle struct {
	Server *tls.Config
	Client *tls.Config
}

// LoadTLSBundle arma un par de configs mTLS: el servidor exige certificado
// de cliente firmado por caFile y el cliente valida al servidor contra la
// misma CA.
func LoadTLSBundle(certFile, keyFile, caFile, serverName string) (*TLSBundle, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("invalid CA file")
	}
	server := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}
	client := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
		ServerName:   serverName,
	}
	return &TLSBundle{Server: server, Client: client}, nil
}
