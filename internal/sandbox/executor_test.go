package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.starlark.net/starlark"
)

func TestLoadRejectsSyntaxError(t *testing.T) {
	_, err := Load("bad.star", "def f(:\n  pass")
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("expected ErrSyntax, got %v", err)
	}
}

func TestForbiddenLoadStatementNeverResolves(t *testing.T) {
	prog, err := Load("bad.star", "load(\"os.star\", \"os\")\ndef f():\n  return os\n")
	if err != nil {
		return // rejected at static-validation time, which also satisfies the contract
	}
	if _, err := Call(context.Background(), prog, "f", time.Second); err == nil {
		t.Fatalf("expected a forbidden load statement to fail since no module loader is ever wired")
	}
}

func TestLoadRejectsUndefinedName(t *testing.T) {
	_, err := Load("bad.star", "def f():\n  return open('/etc/passwd')\n")
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("expected ErrSyntax for an undefined/forbidden name, got %v", err)
	}
}

func TestCallRunsEntryFunction(t *testing.T) {
	prog, err := Load("ok.star", `
def double(x):
    return x * 2
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	result, err := Call(context.Background(), prog, "double", time.Second, starlark.MakeInt(21))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	n, ok := result.(starlark.Int)
	if !ok {
		t.Fatalf("expected an Int result, got %T", result)
	}
	if v, _ := n.Int64(); v != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

func TestCallEnforcesTimeout(t *testing.T) {
	prog, err := Load("slow.star", `
def spin():
    x = 0
    for i in range(100000000):
        x = x + i
    return x
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = Call(context.Background(), prog, "spin", 10*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCallReportsUndefinedFunction(t *testing.T) {
	prog, err := Load("ok.star", "x = 1\n")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = Call(context.Background(), prog, "missing", time.Second)
	if !errors.Is(err, ErrBadReturn) {
		t.Fatalf("expected ErrBadReturn for an undefined function, got %v", err)
	}
}

func TestCallSurfacesRuntimeError(t *testing.T) {
	prog, err := Load("err.star", `
def boom():
    return 1 // 0
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = Call(context.Background(), prog, "boom", time.Second)
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("expected ErrRuntime, got %v", err)
	}
}

func TestPredeclaredModulesUsableFromScript(t *testing.T) {
	prog, err := Load("modules.star", `
def compute():
    data = json.decode('{"a": 1, "b": 2}')
    total = sum([data["a"], data["b"]])
    avg = stats.mean([1.0, 2.0, 3.0])
    return struct(total=total, avg=avg, rounded=round(avg), sqrt2=math.sqrt(2))
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	result, err := Call(context.Background(), prog, "compute", time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Type() != "struct" {
		t.Fatalf("expected a struct result, got %s", result.Type())
	}
}
