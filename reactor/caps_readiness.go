//go:build linux || darwin || freebsd || netbsd || openbsd

package reactor

const hasReadinessBackend = true
