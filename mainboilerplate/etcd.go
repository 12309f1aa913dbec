package mainboilerplate

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
)

// EtcdConfig configures the application Etcd session.
type EtcdConfig struct {
	Address       string        `long:"address" env:"ADDRESS" default:"http://localhost:2379" description:"Etcd service address endpoint"`
	CertFile      string        `long:"cert-file" env:"CERT_FILE" default:"" description:"Path to the client TLS certificate"`
	CertKeyFile   string        `long:"cert-key-file" env:"CERT_KEY_FILE" default:"" description:"Path to the client TLS private key"`
	TrustedCAFile string        `long:"trusted-ca-file" env:"TRUSTED_CA_FILE" default:"" description:"Path to the trusted CA for client verification of server certificates"`
	Timeout       time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"Timeout of Etcd dials and requests"`
}

// MustDial builds an Etcd client connection.
func (c *EtcdConfig) MustDial() *clientv3.Client {
	var addr, err = url.Parse(c.Address)
	Must(err, "failed to parse Etcd address", "address", c.Address)

	var tlsConfig *tls.Config
	switch addr.Scheme {
	case "https":
		tlsConfig, err = buildTLSConfig(c.CertFile, c.CertKeyFile, c.TrustedCAFile)
		Must(err, "failed to build TLS config")
	case "unix":
		// The Etcd client requires hostname is stripped from unix:// URLs.
		addr.Host = ""
	}

	// Use a blocking dial so that a partitioned or mis-configured Etcd is
	// reported here, rather than by the first request.
	var timer = time.AfterFunc(time.Second, func() {
		log.WithField("addr", addr.String()).Warn("dialing Etcd is taking a while (is network okay?)")
	})
	defer timer.Stop()

	etcd, err := clientv3.New(clientv3.Config{
		Endpoints:            []string{addr.String()},
		DialOptions:          []grpc.DialOption{grpc.WithBlock()},
		DialTimeout:          c.Timeout,
		DialKeepAliveTime:    c.Timeout,
		DialKeepAliveTimeout: c.Timeout,
		RejectOldCluster:     true,
		TLS:                  tlsConfig,
	})
	Must(err, "failed to build Etcd client", "address", addr.String())

	var ctx, cancel = context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	Must(etcd.Sync(ctx), "initial Etcd endpoint sync failed")
	return etcd
}

// buildTLSConfig of a client certificate and key, and of a trusted CA.
// Each is optional.
func buildTLSConfig(certPath, keyPath, trustedCAPath string) (*tls.Config, error) {
	var cfg = &tls.Config{MinVersion: tls.VersionTLS12}

	if certPath != "" {
		var cert, err = tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, errors.WithMessage(err, "loading client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if trustedCAPath != "" {
		var pem, err = os.ReadFile(trustedCAPath)
		if err != nil {
			return nil, errors.WithMessage(err, "reading trusted CA")
		}
		cfg.RootCAs = x509.NewCertPool()
		if !cfg.RootCAs.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", trustedCAPath)
		}
	}
	return cfg, nil
}
