// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"math"
	"os"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/crypto/pkcs12"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	apierrors "github.com/xtreemfs/xtreemfs-sub010/errors"
	"github.com/xtreemfs/xtreemfs-sub010/metrics"
	"github.com/xtreemfs/xtreemfs-sub010/proto"
)

type (
	Config struct {
		MaxTimeoutMs       uint32    `json:"max_timeout_ms" yaml:"max_timeout_ms"`
		ConnectTimeoutMs   uint32    `json:"connect_timeout_ms" yaml:"connect_timeout_ms"`
		KeepaliveTimeoutS  uint32    `json:"keepalive_timeout_s" yaml:"keepalive_timeout_s"`
		BackoffBaseDelayMs uint32    `json:"backoff_base_delay_ms" yaml:"backoff_base_delay_ms"`
		BackoffMaxDelayMs  uint32    `json:"backoff_max_delay_ms" yaml:"backoff_max_delay_ms"`
		TLS                TLSConfig `json:"tls" yaml:"tls"`
	}
	// TLSConfig selects the client certificate, either a PKCS#12 bundle or a
	// PEM pair. An empty config dials without TLS.
	TLSConfig struct {
		PKCS12File         string `json:"pkcs12_file" yaml:"pkcs12_file"`
		PKCS12Password     string `json:"pkcs12_password" yaml:"pkcs12_password"`
		CertFile           string `json:"cert_file" yaml:"cert_file"`
		KeyFile            string `json:"key_file" yaml:"key_file"`
		CAFile             string `json:"ca_file" yaml:"ca_file"`
		ServerName         string `json:"server_name" yaml:"server_name"`
		InsecureSkipVerify bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	}

	// Transport keeps one connection per service address.
	Transport struct {
		cfg      Config
		dialOpts []grpc.DialOption
		// conns maintains grpc connections by address
		conns sync.Map
		mu    sync.Mutex
	}
)

func (c *TLSConfig) Enabled() bool {
	return c.PKCS12File != "" || c.CertFile != ""
}

func New(cfg Config) (*Transport, error) {
	creds := insecure.NewCredentials()
	if cfg.TLS.Enabled() {
		tlsCfg, err := LoadTLSConfig(&cfg.TLS)
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsCfg)
	}
	return &Transport{
		cfg:      cfg,
		dialOpts: generateDialOpts(&cfg, creds),
	}, nil
}

// LoadTLSConfig reads the client certificate named by cfg.
func LoadTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint: gosec
	}
	switch {
	case cfg.PKCS12File != "":
		data, err := os.ReadFile(cfg.PKCS12File)
		if err != nil {
			return nil, err
		}
		key, cert, err := pkcs12.Decode(data, cfg.PKCS12Password)
		if err != nil {
			return nil, apierrors.NewApplication(apierrors.EINVAL, "decode pkcs12 file: "+err.Error())
		}
		tlsCfg.Certificates = []tls.Certificate{{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  key,
			Leaf:        cert,
		}}
	case cfg.CertFile != "":
		pair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.Certificates = []tls.Certificate{pair}
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, apierrors.NewApplication(apierrors.EINVAL, "no certificate found in "+cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

func unaryInterceptorWithTracer(ctx context.Context, method string, req, reply interface{},
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
) error {
	span := trace.SpanFromContextSafe(ctx)
	ctx = metadata.AppendToOutgoingContext(ctx, proto.ReqIdKey, span.TraceID())

	return invoker(ctx, method, req, reply, cc, opts...)
}

func generateDialOpts(cfg *Config, creds credentials.TransportCredentials) []grpc.DialOption {
	dialOpts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(math.MaxInt32),
			grpc.MaxCallRecvMsgSize(math.MaxInt32),
			grpc.ForceCodec(jsonCodec{}),
		),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Timeout:             time.Duration(cfg.KeepaliveTimeoutS) * time.Second,
				PermitWithoutStream: true,
			},
		),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  time.Duration(cfg.BackoffBaseDelayMs) * time.Millisecond,
				Multiplier: backoff.DefaultConfig.Multiplier,
				Jitter:     backoff.DefaultConfig.Jitter,
				MaxDelay:   time.Duration(cfg.BackoffMaxDelayMs) * time.Millisecond,
			},
			MinConnectTimeout: time.Millisecond * time.Duration(cfg.ConnectTimeoutMs),
		}),
		grpc.WithChainUnaryInterceptor(
			unaryInterceptorWithTracer,
			metrics.GRPCClientMetrics.UnaryClientInterceptor(),
		),
		grpc.WithTransportCredentials(creds),
	}
	return dialOpts
}

// getConn returns the connection to addr, dialing it on first use.
// Dialing does not block, a broken peer shows up on the first call.
func (t *Transport) getConn(addr string) (*grpc.ClientConn, error) {
	if conn, ok := t.conns.Load(addr); ok {
		return conn.(*grpc.ClientConn), nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns.Load(addr); ok {
		return conn.(*grpc.ClientConn), nil
	}
	conn, err := grpc.Dial(addr, t.dialOpts...)
	if err != nil {
		return nil, apierrors.NewTransport(err)
	}
	t.conns.Store(addr, conn)
	return conn, nil
}

// Invoke performs one attempt of method at addr. Failures are classified
// into the client's error kinds.
func (t *Transport) Invoke(ctx context.Context, addr, method string, req, resp interface{}) error {
	conn, err := t.getConn(addr)
	if err != nil {
		return err
	}
	if t.cfg.MaxTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.cfg.MaxTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	var trailer metadata.MD
	err = conn.Invoke(ctx, method, req, resp, grpc.Trailer(&trailer))
	if err != nil {
		return classify(err, trailer)
	}
	return nil
}

func (t *Transport) Close() error {
	t.conns.Range(func(key, value interface{}) bool {
		value.(*grpc.ClientConn).Close()
		t.conns.Delete(key)
		return true
	})
	return nil
}
