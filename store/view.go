package store

import "strings"

func toView(acc *Account, opts ListOptions) AccountView {
	v := AccountView{
		ID:        acc.ID,
		Status:    acc.Status,
		Priority:  acc.Priority,
		Metadata:  acc.Metadata,
		CreatedAt: acc.CreatedAt,
		LastUsed:  acc.LastUsed,
	}
	if opts.IncludeSensitive {
		v.Email = acc.Email
	} else {
		v.Email = maskEmail(acc.Email)
	}
	if opts.IncludeStats {
		stats := acc.Stats
		rl := acc.RateLimit
		v.Stats = &stats
		v.RateLimit = &rl
	}
	return v
}

// maskEmail keeps the first three characters of the local part: "abc***@domain".
func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	r := []rune(local)
	if len(r) > 3 {
		r = r[:3]
	}
	if !ok {
		return string(r) + "***"
	}
	return string(r) + "***@" + domain
}

// MaskEmail is the masking used in views and log fields.
func MaskEmail(email string) string {
	return maskEmail(email)
}
