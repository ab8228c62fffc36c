// Package certs reads the ingress certificate that the ingress controller
// provisions through its ACME account in the coordination store.
package certs

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/clustermesh/platform-operator/internal/consul"
)

const acmeAccountKey = "traefik/acme/account/object"

// Certificate is a PEM key pair issued for the cluster ingress domain.
type Certificate struct {
	PrivateKey  string
	Certificate string
}

// KeyReader fetches raw values from the coordination store. Satisfied by
// consul.Client.
type KeyReader interface {
	GetKeyRaw(ctx context.Context, key string) ([]byte, error)
}

// Store polls the ACME account object for the first issued domain
// certificate.
type Store struct {
	kv     KeyReader
	logger logr.Logger
	clock  clock.Clock
}

// NewStore returns a Store reading through the given coordination store
// client.
func NewStore(kv KeyReader, logger logr.Logger) *Store {
	return NewStoreWithClock(kv, logger, clock.RealClock{})
}

// NewStoreWithClock is NewStore with an injectable clock for tests.
func NewStoreWithClock(kv KeyReader, logger logr.Logger, clk clock.Clock) *Store {
	return &Store{kv: kv, logger: logger, clock: clk}
}

// acmeAccount mirrors the gzip-compressed JSON blob the ingress controller
// keeps under its account key. PrivateKey and Certificate arrive base64
// encoded and decode straight into byte slices.
type acmeAccount struct {
	DomainsCertificate struct {
		Certs []struct {
			Certificate *struct {
				PrivateKey  []byte `json:"PrivateKey"`
				Certificate []byte `json:"Certificate"`
			} `json:"Certificate"`
		} `json:"Certs"`
	} `json:"DomainsCertificate"`
}

func (s *Store) getACMEAccount(ctx context.Context) (*acmeAccount, error) {
	value, err := s.kv.GetKeyRaw(ctx, acmeAccountKey)
	if err != nil {
		if errors.Is(err, consul.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	reader, err := gzip.NewReader(bytes.NewReader(value))
	if err != nil {
		return nil, fmt.Errorf("decompressing acme account: %w", err)
	}
	defer reader.Close()
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing acme account: %w", err)
	}
	account := &acmeAccount{}
	if err := json.Unmarshal(decompressed, account); err != nil {
		return nil, fmt.Errorf("parsing acme account: %w", err)
	}
	return account, nil
}

// GetCertificate returns the first issued domain certificate, or nil while
// none has been issued yet.
func (s *Store) GetCertificate(ctx context.Context) (*Certificate, error) {
	account, err := s.getACMEAccount(ctx)
	if err != nil || account == nil {
		return nil, err
	}
	certs := account.DomainsCertificate.Certs
	if len(certs) == 0 || certs[0].Certificate == nil {
		return nil, nil
	}
	cert := certs[0].Certificate
	return &Certificate{
		PrivateKey:  string(cert.PrivateKey),
		Certificate: string(cert.Certificate),
	}, nil
}

// WaitUntilCertificateReady polls until a certificate has been issued.
// Read failures are logged and retried, only context cancellation aborts
// the wait.
func (s *Store) WaitUntilCertificateReady(ctx context.Context, interval time.Duration) error {
	for {
		cert, err := s.GetCertificate(ctx)
		if err != nil {
			s.logger.Info("certificate request failed, retrying", "error", err)
		} else if cert != nil {
			return nil
		}

		timer := s.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
	}
}
