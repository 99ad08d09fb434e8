// ABOUTME: TUI initialization and control
// ABOUTME: Runs the clock monitor until the user quits or the context ends
package ui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the monitor in the alternate screen. It returns nil when the
// user quits or ctx is cancelled.
func Run(ctx context.Context, config Config) error {
	p := tea.NewProgram(NewModel(config), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}
