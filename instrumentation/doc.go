// Package instrumentation provides OpenTelemetry metrics and tracing for
// the authorization server: counters and histograms for grant processing,
// security detections and storage operations, plus span helpers used by
// the server and storage layers.
//
// Instrumentation is optional. When disabled (or never configured) the
// package hands out no-op providers, so call sites stay unconditional and
// cost nothing.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "oauth-provider",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
package instrumentation
