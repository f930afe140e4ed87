package metadata

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseISODuration parses the ISO 8601 durations the API returns for video
// lengths (PT#H#M#S, with a leading P#D for very long archives).
func parseISODuration(s string) (time.Duration, error) {
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("not an ISO 8601 duration: %q", s)
	}
	rest := s[1:]

	var days, hours, minutes, seconds int64
	if idx := strings.Index(rest, "D"); idx >= 0 {
		v, err := strconv.ParseInt(rest[:idx], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad day component in %q", s)
		}
		days = v
		rest = rest[idx+1:]
	}
	if strings.HasPrefix(rest, "T") {
		rest = rest[1:]
		num := ""
		for _, r := range rest {
			switch {
			case r >= '0' && r <= '9':
				num += string(r)
			case r == 'H' || r == 'M' || r == 'S':
				v, err := strconv.ParseInt(num, 10, 64)
				if err != nil {
					return 0, fmt.Errorf("bad component in %q", s)
				}
				switch r {
				case 'H':
					hours = v
				case 'M':
					minutes = v
				case 'S':
					seconds = v
				}
				num = ""
			default:
				return 0, fmt.Errorf("unexpected %q in duration %q", r, s)
			}
		}
	}

	total := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	return total, nil
}
