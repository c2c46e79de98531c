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

package metrics

import (
	grpcprometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "XtreemFS"

var (
	Registry = prometheus.NewRegistry()

	GRPCClientMetrics = grpcprometheus.NewClientMetrics(
		func(c *prometheus.CounterOpts) {
			c.Namespace = namespace
		},
	)

	// RPCAttempts counts attempts of logical calls by service and outcome kind.
	RPCAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "attempts_total",
	}, []string{"service", "result"})

	RPCRedirects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "redirects_total",
	}, []string{"service"})

	RPCFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "failures_total",
	}, []string{"service", "kind"})

	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "metadata_cache",
		Name:      "requests_total",
	}, []string{"field", "result"})

	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "metadata_cache",
		Name:      "evictions_total",
	})

	CapabilityRenewals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capability",
		Name:      "renewals_total",
	}, []string{"result"})

	ChunkRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "replica",
		Name:      "chunk_requests_total",
	}, []string{"op"})

	ChunkBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "replica",
		Name:      "chunk_bytes_total",
	}, []string{"op"})
)

func init() {
	GRPCClientMetrics.EnableClientHandlingTimeHistogram(
		func(h *prometheus.HistogramOpts) {
			h.Namespace = namespace
		},
	)
	Registry.MustRegister(
		GRPCClientMetrics,
		RPCAttempts,
		RPCRedirects,
		RPCFailures,
		CacheRequests,
		CacheEvictions,
		CapabilityRenewals,
		ChunkRequests,
		ChunkBytes,
	)
}
