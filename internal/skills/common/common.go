// Package common holds general purpose tools that need no credentials.
package common

import (
	"context"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/skill"
)

const (
	Category         = "common"
	SkillCurrentTime = "current_time"
)

type timeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema_description:"IANA timezone such as Asia/Shanghai, defaults to UTC"`
}

// NewCategory 返回通用技能分类，now 为 nil 时使用 time.Now。
func NewCategory(now func() time.Time) skill.Category {
	if now == nil {
		now = time.Now
	}
	return skill.Category{
		Name:      Category,
		Skills:    []string{SkillCurrentTime},
		Stateless: true,
		New: func(string, skill.Env) (skill.Tool, error) {
			return skill.NewTool(SkillCurrentTime, "Get the current date and time in a timezone.",
				func(_ context.Context, args timeArgs) (string, error) {
					loc := time.UTC
					if args.Timezone != "" {
						l, err := time.LoadLocation(args.Timezone)
						if err != nil {
							return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "未知时区 "+args.Timezone)
						}
						loc = l
					}
					t := now().In(loc)
					return skill.JSON(map[string]any{
						"time":     t.Format(time.RFC3339),
						"timezone": loc.String(),
						"unix":     t.Unix(),
						"weekday":  t.Weekday().String(),
					})
				}), nil
		},
	}
}
