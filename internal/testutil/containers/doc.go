// Package containers starts the external services coldwatch talks to, for
// integration tests:
//
//   - MySQL 8 as the production storage dialect
//   - Eclipse Mosquitto as the telemetry broker
//   - ntfy as a notification destination reachable through shoutrrr
//
// Containers are normally shared per package through TestMain:
//
//	var broker *containers.MosquittoContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    broker, err = containers.NewMosquittoContainer(context.Background(), nil)
//	    if err != nil {
//	        panic(err)
//	    }
//	    code := m.Run()
//	    _ = broker.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Every file is behind the "integration" build tag:
//
//	go test -tags=integration ./...
package containers
