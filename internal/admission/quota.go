package admission

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultQuotaTimeout bounds one oracle call when the config leaves it unset.
const DefaultQuotaTimeout = 10 * time.Second

// QuotaOracle reports the remaining external API budget. Zero means
// exhausted. An error means the oracle could not be consulted; callers admit
// on that with a warning rather than blocking work on a broken probe.
type QuotaOracle interface {
	Remaining(ctx context.Context) (int, error)
}

// ExecOracle shells out to a configured command for the quota answer. The
// command prints "remaining=<n>" on stdout; a non-zero exit is a definitive
// "exhausted", not an oracle failure.
type ExecOracle struct {
	command string
	args    []string
	timeout time.Duration
}

// NewExecOracle creates an oracle from a command line. The command is split
// on whitespace; the first word is the executable. A non-positive timeout
// uses DefaultQuotaTimeout.
func NewExecOracle(command string, timeout time.Duration) *ExecOracle {
	if timeout <= 0 {
		timeout = DefaultQuotaTimeout
	}
	fields := strings.Fields(command)
	oracle := &ExecOracle{timeout: timeout}
	if len(fields) > 0 {
		oracle.command = fields[0]
		oracle.args = fields[1:]
	}
	return oracle
}

// Remaining implements QuotaOracle.
func (o *ExecOracle) Remaining(ctx context.Context) (int, error) {
	if o.command == "" {
		return 0, errors.New("no quota command configured")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, o.command, o.args...).Output() // #nosec G204 -- command comes from the daemon config, not request input
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return 0, nil
		}
		return 0, fmt.Errorf("quota oracle %s: %w", o.command, err)
	}

	return parseRemaining(string(out))
}

// parseRemaining extracts the budget from "remaining=<n>" anywhere in the
// output. Oracles are free to print other diagnostics around it.
func parseRemaining(output string) (int, error) {
	for _, field := range strings.Fields(output) {
		value, ok := strings.CutPrefix(field, "remaining=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("quota oracle printed unparseable budget %q", field)
		}
		return n, nil
	}
	return 0, fmt.Errorf("quota oracle output carried no remaining= field: %q", strings.TrimSpace(output))
}
