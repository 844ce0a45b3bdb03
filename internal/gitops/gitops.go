// Package gitops publishes the data directory through the git CLI:
// status, stage, commit with a timestamped message, and a confirmed
// push. Any git step failing halts the run with the captured stderr.
package gitops

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"chatsync/internal/config"
	logx "chatsync/pkg/logx"
)

// Runner executes one git invocation and returns its stdout.
type Runner func(ctx context.Context, dir string, args ...string) (string, error)

func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.String(), nil
}

type Options struct {
	// Message overrides the default timestamped commit message.
	Message string
	// Yes pushes without prompting.
	Yes bool
}

type Result struct {
	Clean     bool
	Committed bool
	Pushed    bool
}

type Publisher struct {
	dir    string
	remote string
	branch string
	log    logx.Logger

	run Runner
	now func() time.Time
	in  io.Reader
	out io.Writer
}

func New(cfg config.PublishConfig, log logx.Logger) *Publisher {
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	remote := cfg.Remote
	if remote == "" {
		remote = "origin"
	}
	return &Publisher{
		dir:    dir,
		remote: remote,
		branch: cfg.Branch,
		log:    log,
		run:    execGit,
		now:    time.Now,
		in:     os.Stdin,
		out:    os.Stdout,
	}
}

// SetRunner overrides the git executor (tests).
func (p *Publisher) SetRunner(r Runner) { p.run = r }

// SetNow overrides the clock.
func (p *Publisher) SetNow(fn func() time.Time) { p.now = fn }

// SetPrompt overrides the confirmation streams.
func (p *Publisher) SetPrompt(in io.Reader, out io.Writer) { p.in, p.out = in, out }

// Publish stages and commits local changes, then pushes after an
// affirmative confirmation. A clean tree is a successful no-op; a
// declined push keeps the commit and succeeds.
func (p *Publisher) Publish(ctx context.Context, opts Options) (Result, error) {
	var res Result

	status, err := p.run(ctx, p.dir, "status", "--porcelain")
	if err != nil {
		return res, err
	}
	if strings.TrimSpace(status) == "" {
		p.log.Info("working tree clean; nothing to publish")
		res.Clean = true
		return res, nil
	}
	p.log.Info("changes detected", logx.Int("entries", len(strings.Split(strings.TrimSpace(status), "\n"))))

	if _, err := p.run(ctx, p.dir, "add", "-A"); err != nil {
		return res, err
	}

	msg := opts.Message
	if msg == "" {
		msg = "Data update " + p.now().Format("2006-01-02 15:04")
	}
	if _, err := p.run(ctx, p.dir, "commit", "-m", msg); err != nil {
		return res, err
	}
	res.Committed = true
	p.log.Info("committed", logx.String("message", msg))

	if !opts.Yes && !p.confirmPush() {
		p.log.Info("push declined; commit kept locally")
		return res, nil
	}

	args := []string{"push", p.remote}
	if p.branch != "" {
		args = append(args, p.branch)
	}
	if _, err := p.run(ctx, p.dir, args...); err != nil {
		return res, err
	}
	res.Pushed = true
	p.log.Info("pushed", logx.String("remote", p.remote))
	return res, nil
}

// confirmPush asks on the terminal; only "y"/"yes" (case-insensitive)
// counts as consent.
func (p *Publisher) confirmPush() bool {
	fmt.Fprintf(p.out, "push to %s? [y/N] ", p.remote)
	sc := bufio.NewScanner(p.in)
	if !sc.Scan() {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(sc.Text())) {
	case "y", "yes":
		return true
	}
	return false
}
