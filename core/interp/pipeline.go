package interp

import (
	"bytes"
	"context"
	"os"
	"sync"

	"mvdan.cc/sh/v3/syntax"
)

// pipeline runs every component of a pipe chain concurrently in a
// forked environment, wired together with OS pipes. The pipeline's
// status is the last component's, or the first failure under pipefail.
func (r *Runner) pipeline(ctx context.Context, cm *syntax.BinaryCmd) control {
	stmts, ops := flattenPipe(cm)

	runners := make([]*Runner, len(stmts))
	for i := range stmts {
		runners[i] = r.fork()
		runners[i].ectx = ctx
	}

	type pipeEnds struct {
		in  *os.File
		out *os.File
	}
	ends := make([]pipeEnds, len(stmts))
	for i := 0; i < len(stmts)-1; i++ {
		pr, pw, err := os.Pipe()
		if err != nil {
			for _, e := range ends {
				if e.in != nil {
					e.in.Close()
				}
				if e.out != nil {
					e.out.Close()
				}
			}
			r.diag(err)
			r.status = Exited(1)
			return controlNormal
		}
		runners[i].stdout = pw
		if ops[i] == syntax.PipeAll {
			runners[i].stderr = pw
		}
		runners[i+1].stdin = pr
		ends[i].out = pw
		ends[i+1].in = pr
	}

	statuses := make([]Status, len(stmts))
	var wg sync.WaitGroup
	for i := range stmts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr := runners[i]
			rr.stmtSync(ctx, stmts[i])
			statuses[i] = rr.status
			// Closing the write end delivers EOF downstream.
			if ends[i].out != nil {
				ends[i].out.Close()
			}
			if ends[i].in != nil {
				ends[i].in.Close()
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	pending := controlNormal
wait:
	for {
		select {
		case <-done:
			break wait
		case name := <-r.Signals.pending():
			if c := r.handleSignal(ctx, name); c.kind != flowNormal && pending.kind == flowNormal {
				pending = c
			}
		}
	}

	r.status = statuses[len(statuses)-1]
	if r.Opts.PipeFail {
		for _, st := range statuses {
			if !st.Ok() {
				r.status = st
				break
			}
		}
	}
	return pending
}

// flattenPipe unrolls a left-associative pipe chain into its component
// statements. ops[i] is the operator joining stmts[i] to stmts[i+1].
func flattenPipe(cm *syntax.BinaryCmd) (stmts []*syntax.Stmt, ops []syntax.BinCmdOperator) {
	if sub, ok := cm.X.Cmd.(*syntax.BinaryCmd); ok &&
		(sub.Op == syntax.Pipe || sub.Op == syntax.PipeAll) &&
		len(cm.X.Redirs) == 0 && !cm.X.Negated && !cm.X.Background {
		stmts, ops = flattenPipe(sub)
	} else {
		stmts = []*syntax.Stmt{cm.X}
	}
	ops = append(ops, cm.Op)
	stmts = append(stmts, cm.Y)
	return stmts, ops
}

// bgStmt starts a statement as a background job in its own forked
// environment. The job's standard input is closed; its identifier
// becomes $!.
func (r *Runner) bgStmt(ctx context.Context, st *syntax.Stmt) {
	job := r.jobs.Add(stmtText(st))
	sub := r.fork()
	sub.stdin = eofReader{}
	sub.ectx = ctx
	go func() {
		sub.stmtSync(ctx, st)
		job.finish(sub.status)
	}()
}

func stmtText(st *syntax.Stmt) string {
	var buf bytes.Buffer
	syntax.NewPrinter().Print(&buf, st)
	return buf.String()
}
