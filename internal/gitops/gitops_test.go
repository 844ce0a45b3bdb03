package gitops

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chatsync/internal/config"
	logx "chatsync/pkg/logx"
)

type call struct {
	args []string
}

type fakeGit struct {
	status string
	calls  []call
	fail   string // args prefix that should fail
}

func (f *fakeGit) run(ctx context.Context, dir string, args ...string) (string, error) {
	f.calls = append(f.calls, call{args: args})
	if f.fail != "" && strings.HasPrefix(strings.Join(args, " "), f.fail) {
		return "", errors.New("git " + f.fail + ": fatal: remote rejected")
	}
	if args[0] == "status" {
		return f.status, nil
	}
	return "", nil
}

func (f *fakeGit) did(prefix string) bool {
	for _, c := range f.calls {
		if strings.HasPrefix(strings.Join(c.args, " "), prefix) {
			return true
		}
	}
	return false
}

func newPublisher(t *testing.T, fg *fakeGit, input string) *Publisher {
	t.Helper()
	p := New(config.PublishConfig{Dir: t.TempDir()}, logx.Nop())
	p.SetRunner(fg.run)
	p.SetNow(func() time.Time { return time.Date(2026, 8, 27, 7, 30, 0, 0, time.UTC) })
	p.SetPrompt(strings.NewReader(input), &strings.Builder{})
	return p
}

func TestCleanTreeIsNoOp(t *testing.T) {
	fg := &fakeGit{status: ""}
	res, err := newPublisher(t, fg, "").Publish(context.Background(), Options{})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !res.Clean || res.Committed || res.Pushed {
		t.Fatalf("result = %+v", res)
	}
	if fg.did("add") || fg.did("commit") {
		t.Fatal("clean tree should not stage or commit")
	}
}

func TestCommitAndConfirmedPush(t *testing.T) {
	fg := &fakeGit{status: " M data.db\n"}
	res, err := newPublisher(t, fg, "y\n").Publish(context.Background(), Options{})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !res.Committed || !res.Pushed {
		t.Fatalf("result = %+v", res)
	}
	if !fg.did("commit -m Data update 2026-08-27 07:30") {
		t.Fatalf("timestamped commit missing: %+v", fg.calls)
	}
	if !fg.did("push origin") {
		t.Fatalf("push missing: %+v", fg.calls)
	}
}

func TestDeclinedPushKeepsCommit(t *testing.T) {
	for _, answer := range []string{"n\n", "\n", "nope\n", ""} {
		fg := &fakeGit{status: " M data.db\n"}
		res, err := newPublisher(t, fg, answer).Publish(context.Background(), Options{})
		if err != nil {
			t.Fatalf("answer %q: %v", answer, err)
		}
		if !res.Committed || res.Pushed {
			t.Fatalf("answer %q: result = %+v", answer, res)
		}
		if fg.did("push") {
			t.Fatalf("answer %q: pushed without consent", answer)
		}
	}
}

func TestYesFlagSkipsPrompt(t *testing.T) {
	fg := &fakeGit{status: " M data.db\n"}
	res, err := newPublisher(t, fg, "").Publish(context.Background(), Options{Yes: true, Message: "weekly refresh"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !res.Pushed {
		t.Fatalf("result = %+v", res)
	}
	if !fg.did("commit -m weekly refresh") {
		t.Fatalf("custom message missing: %+v", fg.calls)
	}
}

func TestGitFailureHalts(t *testing.T) {
	fg := &fakeGit{status: " M data.db\n", fail: "commit"}
	_, err := newPublisher(t, fg, "y\n").Publish(context.Background(), Options{})
	if err == nil {
		t.Fatal("commit failure should halt")
	}
	if fg.did("push") {
		t.Fatal("push attempted after failed commit")
	}
}

func TestUppercaseYesAccepted(t *testing.T) {
	fg := &fakeGit{status: " M data.db\n"}
	res, err := newPublisher(t, fg, "YES\n").Publish(context.Background(), Options{})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !res.Pushed {
		t.Fatalf("result = %+v", res)
	}
}
