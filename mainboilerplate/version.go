package mainboilerplate

// Version and BuildDate of the program, which are set at build time:
//
//	go build -ldflags "-X go.sqlcluster.dev/core/mainboilerplate.Version=v1.2.3"
var (
	Version   = "development"
	BuildDate = "unknown"
)
