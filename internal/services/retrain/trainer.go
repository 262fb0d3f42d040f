package retrain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	domsvc "Calibra/internal/domain/service"
	xhttp "Calibra/pkg/http"
)

var (
	ErrTrainerTimeout = errors.New("trainer timed out")
	ErrTrainerFailed  = errors.New("trainer failed")
)

// ExecTrainer runs the trainer as a subprocess. {data}, {model} and
// {entries} in Args are replaced per run.
type ExecTrainer struct {
	Command string
	Args    []string
	WorkDir string
	Timeout time.Duration
}

func NewExecTrainer(command string, args []string, workDir string, timeout time.Duration) *ExecTrainer {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ExecTrainer{Command: command, Args: args, WorkDir: workDir, Timeout: timeout}
}

func (t *ExecTrainer) Train(ctx context.Context, req domsvc.TrainRequest) (domsvc.TrainResult, error) {
	r := strings.NewReplacer(
		"{data}", req.DataPath,
		"{model}", req.ModelPath,
		"{entries}", strconv.Itoa(req.EntryCount),
	)
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = r.Replace(a)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, t.Command, args...)
	cmd.Dir = t.WorkDir
	// Without WaitDelay a child holding the pipes open would keep Run
	// blocked past the kill.
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := domsvc.TrainResult{Output: stdout.String() + "\n" + stderr.String(), Duration: time.Since(start)}

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%w after %s", ErrTrainerTimeout, t.Timeout)
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err != nil {
		return res, fmt.Errorf("%w: %v: %s", ErrTrainerFailed, err, tail(stderr.String(), 512))
	}
	return res, nil
}

// HTTPTrainer asks a training service to fit the model. The response body
// is treated as trainer output.
type HTTPTrainer struct {
	URL    string
	client *xhttp.Client
}

func NewHTTPTrainer(url string, timeout time.Duration) *HTTPTrainer {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPTrainer{URL: url, client: xhttp.NewClient(xhttp.WithTimeout(timeout))}
}

func (t *HTTPTrainer) Train(ctx context.Context, req domsvc.TrainRequest) (domsvc.TrainResult, error) {
	start := time.Now()
	var body []byte
	err := t.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    t.URL,
		Body: map[string]interface{}{
			"data_path":   req.DataPath,
			"model_path":  req.ModelPath,
			"entry_count": req.EntryCount,
		},
	}, &body)
	res := domsvc.TrainResult{Output: string(body), Duration: time.Since(start)}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return res, fmt.Errorf("%w: %v", ErrTrainerTimeout, err)
		}
		return res, fmt.Errorf("%w: %v", ErrTrainerFailed, err)
	}
	return res, nil
}

func isClientTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

var (
	_ domsvc.Trainer = (*ExecTrainer)(nil)
	_ domsvc.Trainer = (*HTTPTrainer)(nil)
)
