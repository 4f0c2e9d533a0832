// Package virta is a durable, resumable workflow engine for long-running
// business processes that mix automated steps with human decisions.
//
// A workflow is a closed graph of named steps. Each step receives the
// instance state and returns one of four outcomes: Advance to a declared
// next step, Interrupt to park the instance until an external actor
// resumes it, Complete, or Fail. The engine checkpoints state and appends
// an audit event after every transition, so a process crash never loses
// more than the step in flight, and two concurrent drivers of the same
// instance cannot both win an update.
//
// Defining a flow:
//
//	reg := virta.NewFlow().
//	    Require("clientName", "clientEmail").
//	    Step("intake", intake, "review").
//	    Step("review", review, "publish", "intake").
//	    Step("publish", publish).
//	    MustBuild()
//
// Running it:
//
//	eng, err := virta.NewSQLiteEngine(db, reg)
//	inst, err := eng.Start(ctx, virta.State{"clientName": "Jane"}, "api")
//	inst, err = eng.Resume(ctx, inst.ID, virta.ResumeRequest{
//	    Payload: virta.State{"action": "approve"},
//	    Actor:   "alice",
//	})
//
// Engines are available backed by memory, SQLite, PostgreSQL and Redis.
// The pkg/sweeper package nudges idle instances on a timer, and
// pkg/httpapi exposes the whole thing over HTTP. NewSQLiteBundle wires
// the three together on one database.
package virta
