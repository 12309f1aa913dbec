package mainboilerplate

import (
	_ "expvar" // Import for /debug/vars
	"fmt"
	"net/http"
	_ "net/http/pprof" // Import for /debug/pprof
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// DiagnosticsConfig configures pull-based application metrics, debugging and diagnostics.
type DiagnosticsConfig struct {
	Address string `long:"address" env:"ADDRESS" description:"Address at which to serve /debug/ready, /debug/version, /debug/metrics and /debug/pprof. Not served if empty"`
}

// TerminationLogPath is written with the value of a recovered panic, for
// retrieval by Kubernetes.
var TerminationLogPath = "/dev/termination-log"

// RegisterDiagnostics registers /debug/ready, /debug/version and
// /debug/metrics handlers with |mux|.
func RegisterDiagnostics(mux *http.ServeMux) {
	mux.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/debug/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, "Version %s, built at %s.\n", Version, BuildDate)
	})
	mux.Handle("/debug/metrics", promhttp.Handler())
}

// InitDiagnosticsAndRecover registers diagnostics with the default ServeMux
// (alongside /debug/pprof and /debug/vars), which is served at the
// configured Address. It returns a closure to be deferred, which writes a
// recovered panic to TerminationLogPath before re-panicking.
func InitDiagnosticsAndRecover(cfg DiagnosticsConfig) func() {
	// Etcd client RPCs are traced under /debug/requests.
	grpc.EnableTracing = true
	RegisterDiagnostics(http.DefaultServeMux)

	if cfg.Address != "" {
		go func() {
			var err = http.ListenAndServe(cfg.Address, nil)
			log.WithFields(log.Fields{"addr": cfg.Address, "err": err}).Error("diagnostics server exited")
		}()
	}

	return func() {
		var r = recover()
		if r == nil {
			return
		}
		if f, err := os.OpenFile(TerminationLogPath, os.O_WRONLY, 0); err == nil {
			_, _ = fmt.Fprintf(f, "%+v", r)
			_ = f.Close()
		}
		panic(r)
	}
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}
