// batch.go provides Batch, the concurrent multi-function lift helper of
// SPEC_FULL.md §5: one goroutine and one independent LiftContext per
// function, errors collected through a mutex-guarded sink shaped after
// the teacher's now-removed src/util/perror.go.
package lift

import (
	"sync"

	"github.com/Hunterm267/dbrew/src/config"
	"github.com/Hunterm267/dbrew/src/function"
	"tinygo.org/x/go-llvm"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// errorSink collects errors reported from parallel lift workers, sized to
// one run of Batch rather than a long-lived listener goroutine.
type errorSink struct {
	mu     sync.Mutex
	errors []FunctionError
}

func (s *errorSink) append(addr uintptr, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, FunctionError{Addr: addr, Err: err})
}

// FunctionError pairs a failed lift's entry address with its error.
type FunctionError struct {
	Addr uintptr
	Err  error
}

// BatchResult is one successfully lifted function: its own module and
// handle within that module's LiftContext.
type BatchResult struct {
	Desc   FunctionDesc
	Ctx    *LiftContext
	Handle function.Handle
}

// ---------------------
// ----- functions -----
// ---------------------

// Batch lifts every FunctionDesc concurrently, each in its own
// LiftContext and IR module (spec.md §5: "different functions can be
// lifted concurrently only if each has an independent state object and
// IR module"). Each goroutine works on its own copy of every
// Declaration, because CALL lowering records on the Declaration the
// callee it adds to that goroutine's module; the caller's map and
// Declarations are only read. Returns the successfully built results and any per-function errors;
// a function that fails does not prevent the others from completing.
func Batch(descs []FunctionDesc, cfg config.Options, declarations map[uintptr]*function.Declaration) ([]BatchResult, []FunctionError) {
	results := make([]*BatchResult, len(descs))
	sink := &errorSink{}

	var wg sync.WaitGroup
	wg.Add(len(descs))
	for i, desc := range descs {
		i, desc := i, desc
		go func() {
			defer wg.Done()
			own := make(map[uintptr]*function.Declaration, len(declarations))
			for addr, decl := range declarations {
				cp := *decl
				cp.LLVM = llvm.Value{}
				own[addr] = &cp
			}
			lc := NewLiftContext("", cfg, own)
			h, err := lc.LiftFunction(desc)
			if err != nil {
				sink.append(desc.Addr, err)
				lc.Dispose()
				return
			}
			results[i] = &BatchResult{Desc: desc, Ctx: lc, Handle: h}
		}()
	}
	wg.Wait()

	out := make([]BatchResult, 0, len(descs))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, sink.errors
}
