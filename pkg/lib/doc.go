// Package lib provides a Go SDK to keep a live, local view of a remote
// automation server (automations, scripts and containers) and to act on it.
//
// The client holds a local store of every resource kind, refreshes it on
// demand, on push signals and periodically, and applies actions optimistically
// while they are in flight.
//
// # Quick Start
//
//	client, err := lib.New(ctx, lib.Config{
//	    ServerURL: "http://localhost:5000",
//	    APIKey:    "secret",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	scripts, _ := client.List(ctx, lib.KindScripts)
//	for _, s := range scripts {
//	    fmt.Println(s.Name(), s.Status)
//	}
//
// # Actions
//
// Resources are addressed by name or ID:
//
//	client.Do(ctx, lib.KindAutomations, "night-lights", lib.ActionStart, map[string]string{"level": "3"})
//	client.Do(ctx, lib.KindContainers, "grafana", lib.ActionRestart, nil)
//
// Only one action per resource can be in flight, a second one fails with
// [ErrAlreadyInFlight].
//
// # Script runs
//
// Script runs are polled until they finish:
//
//	exec, _ := client.RunScript(ctx, "backup.sh", &lib.RunScriptOpts{Wait: true})
//	fmt.Println(exec.Result.Status, exec.Result.Output)
//
// # Watching
//
// [Client.Run] keeps the store in sync until the context is cancelled, using
// the push channel when configured:
//
//	unsub := client.OnChange(lib.KindContainers, func(rs []lib.Resource) { ... })
//	defer unsub()
//	client.Run(ctx)
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: Resource or run does not exist.
//   - [ErrNotValid]: Invalid input or operation.
//   - [ErrAlreadyInFlight]: Another action on the same resource is outstanding.
//   - [ErrTransport]: The server could not be reached or answered garbage.
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines.
package lib
