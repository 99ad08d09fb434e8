// ABOUTME: Fire-and-forget command adapter over a follower connection
// ABOUTME: Lets the monitor drive a remote clock like a local one
package client

import "github.com/Resonate-Protocol/playclock/pkg/frac"

// Remote sends commands for the followed clock and logs send failures.
type Remote struct {
	c *Client
}

// Remote returns an adapter whose methods do not return errors.
func (c *Client) Remote() *Remote {
	return &Remote{c: c}
}

func (r *Remote) report(command string, err error) {
	if err != nil {
		r.c.logger.Warn().Err(err).Str("command", command).Msg("command not sent")
	}
}

func (r *Remote) Start() { r.report("start", r.c.Start()) }

func (r *Remote) Stop() { r.report("stop", r.c.Stop()) }

func (r *Remote) Seek(target int64) { r.report("seek", r.c.Seek(target)) }

func (r *Remote) SetRate(rate frac.Frac) { r.report("rate", r.c.SetRate(rate)) }
