package lifecycle

import "log/slog"

// releaseStack holds the release functions for resources acquired during
// preparing. Releases run LIFO on every terminal transition, so a run that
// dies in any phase still tears down whatever it acquired. Release failures
// are reported, never fatal: a worktree that refuses to go away must not
// mask the run's own outcome.
type releaseStack struct {
	logger   *slog.Logger
	releases []namedRelease
}

type namedRelease struct {
	name string
	fn   func() error
}

func (s *releaseStack) push(name string, fn func() error) {
	s.releases = append(s.releases, namedRelease{name: name, fn: fn})
}

// releaseAll runs every release in reverse acquisition order and returns
// the names of resources that failed to release.
func (s *releaseStack) releaseAll() []string {
	var failed []string
	for i := len(s.releases) - 1; i >= 0; i-- {
		r := s.releases[i]
		if err := r.fn(); err != nil {
			s.logger.Warn("resource cleanup failed", "resource", r.name, "error", err)
			failed = append(failed, r.name)
		}
	}
	s.releases = nil
	return failed
}
