package group

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Character-Chat/agent/contract"
)

type Personality string

const (
	PersonalityActive Personality = "active"
	PersonalityNormal Personality = "normal"
	PersonalityQuiet  Personality = "quiet"
)

// Label is the personality as written into prompts.
func (p Personality) Label() string {
	switch p {
	case PersonalityActive:
		return "活跃"
	case PersonalityQuiet:
		return "安静"
	default:
		return "普通"
	}
}

// Schedule holds the local hours a member is awake. The zero value means
// always awake; Sleep < Wake describes a schedule crossing midnight.
type Schedule struct {
	Wake  int `json:"wake"`
	Sleep int `json:"sleep"`
}

func (s Schedule) Awake(t time.Time) bool {
	if s.Wake == s.Sleep {
		return true
	}
	hour := t.In(contractx.DefaultLocation()).Hour()
	if s.Wake < s.Sleep {
		return hour >= s.Wake && hour < s.Sleep
	}
	return hour >= s.Wake || hour < s.Sleep
}

type Member struct {
	RoleID      string      `json:"role_id"`
	Name        string      `json:"name"`
	Personality Personality `json:"personality"`
	Schedule    Schedule    `json:"schedule"`
}

type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []Member `json:"members"`
}

// ParseMember reads "id:name[:personality[:wake-sleep]]".
func ParseMember(spec string) (Member, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return Member{}, fmt.Errorf("%w: member %q must be id:name[:personality[:wake-sleep]]", contractx.ErrValidation, spec)
	}
	m := Member{
		RoleID:      strings.TrimSpace(parts[0]),
		Name:        strings.TrimSpace(parts[1]),
		Personality: PersonalityNormal,
	}
	if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
		switch p := Personality(strings.TrimSpace(parts[2])); p {
		case PersonalityActive, PersonalityNormal, PersonalityQuiet:
			m.Personality = p
		default:
			return Member{}, fmt.Errorf("%w: unknown personality %q", contractx.ErrValidation, parts[2])
		}
	}
	if len(parts) > 3 {
		wake, sleep, ok := strings.Cut(parts[3], "-")
		if !ok {
			return Member{}, fmt.Errorf("%w: schedule %q must be wake-sleep", contractx.ErrValidation, parts[3])
		}
		w, err := parseHour(wake)
		if err != nil {
			return Member{}, err
		}
		s, err := parseHour(sleep)
		if err != nil {
			return Member{}, err
		}
		m.Schedule = Schedule{Wake: w, Sleep: s}
	}
	return m, nil
}

func parseHour(raw string) (int, error) {
	h, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("%w: hour %q", contractx.ErrValidation, raw)
	}
	return h, nil
}
