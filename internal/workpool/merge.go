package workpool

import (
	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
)

// MergeDefaults copies each pool default into the session wherever the
// session left the field unset. Explicit session values always win, and
// applying the merge twice changes nothing.
func MergeDefaults(sess *sessions.Session, pool *WorkPool) bool {
	changed := false

	if sess.Browser == "" && pool.DefaultBrowser != nil {
		sess.Browser = *pool.DefaultBrowser
		changed = true
	}
	if sess.Version == "" && pool.DefaultBrowserVersion != nil {
		sess.Version = *pool.DefaultBrowserVersion
		changed = true
	}
	if sess.OperatingSystem == "" && pool.DefaultOperatingSystem != nil {
		sess.OperatingSystem = *pool.DefaultOperatingSystem
		changed = true
	}
	if !sess.Headless && pool.DefaultHeadless != nil && *pool.DefaultHeadless {
		sess.Headless = true
		changed = true
	}
	if sess.Screen.Width == 0 && sess.Screen.Height == 0 && pool.DefaultScreen != nil {
		sess.Screen = *pool.DefaultScreen
		changed = true
	}
	if sess.Proxy == nil && pool.DefaultProxy != nil {
		proxy := *pool.DefaultProxy
		sess.Proxy = &proxy
		changed = true
	}
	if pool.DefaultResourceLimits != nil {
		if sess.ResourceLimits == nil {
			limits := *pool.DefaultResourceLimits
			sess.ResourceLimits = &limits
			changed = true
		} else {
			if sess.ResourceLimits.CPU == nil && pool.DefaultResourceLimits.CPU != nil {
				sess.ResourceLimits.CPU = pool.DefaultResourceLimits.CPU
				changed = true
			}
			if sess.ResourceLimits.Memory == nil && pool.DefaultResourceLimits.Memory != nil {
				sess.ResourceLimits.Memory = pool.DefaultResourceLimits.Memory
				changed = true
			}
			if sess.ResourceLimits.TimeoutMinutes == nil && pool.DefaultResourceLimits.TimeoutMinutes != nil {
				sess.ResourceLimits.TimeoutMinutes = pool.DefaultResourceLimits.TimeoutMinutes
				changed = true
			}
		}
	}
	if len(sess.Environment) == 0 || string(sess.Environment) == "{}" {
		if len(pool.DefaultEnvironment) > 0 && string(pool.DefaultEnvironment) != "{}" {
			sess.Environment = pool.DefaultEnvironment
			changed = true
		}
	}

	return changed
}
