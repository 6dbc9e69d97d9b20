// Package fleetpulse is the client-side reporting agent for the FleetPulse
// platform.
//
// The agent periodically computes the host workload's size metrics
// (partitions, members, workers), posts them to the platform, and adapts
// its own schedule to the service tier the platform declares: the permitted
// reporting interval and heartbeat eligibility both follow tier changes at
// runtime. In multi-worker topologies exactly one worker (the one with the
// lowest assigned index) drives the schedule; the others suppress
// reporting.
//
// An optional inbound side accepts vote callbacks on an HTTP listener,
// republishes them to local subscribers, forwards them to sibling workers
// through Redis, and can self-register the callback URL with the platform
// by detecting its deployment environment.
//
// Minimal usage:
//
//	client, err := fleetpulse.New(workload, nil,
//	    core.WithWorkloadID("1234"),
//	    core.WithToken(os.Getenv("FLEETPULSE_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Stop(context.Background())
package fleetpulse
