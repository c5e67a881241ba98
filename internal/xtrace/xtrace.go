/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

// Package xtrace sets up the process-wide otel TracerProvider. Callers get
// their tracer with otel.GetTracerProvider().Tracer(xtrace.Name), the same
// way every other package in this module does.
package xtrace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Name is the tracer name every package in this module requests its span
// tracer under.
const Name = "github.com/yunqi/lighthouse-core"

// Exporter selects which trace backend StartAgent ships spans to.
type Exporter string

const (
	ExporterNone   Exporter = ""
	ExporterJaeger Exporter = "jaeger"
	ExporterZipkin Exporter = "zipkin"
)

// Options configures the process-wide TracerProvider.
type Options struct {
	Exporter    Exporter
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

// StartAgent builds and installs the global TracerProvider described by
// opts. The returned shutdown func must be called on process exit to flush
// pending spans.
func StartAgent(opts Options) (shutdown func(context.Context) error, err error) {
	if opts.Exporter == ExporterNone {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	var exp sdktrace.SpanExporter
	switch opts.Exporter {
	case ExporterJaeger:
		exp, err = jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(opts.Endpoint)))
	case ExporterZipkin:
		exp, err = zipkin.New(opts.Endpoint)
	default:
		return nil, fmt.Errorf("xtrace: unknown exporter %q", opts.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("xtrace: build exporter: %w", err)
	}

	ratio := opts.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(opts.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("xtrace: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
