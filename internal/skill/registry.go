package skill

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"AgentHub/internal/agentstore"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/wallet"
	"AgentHub/pkg/logger"
)

const (
	CodeSkillUnknown    xerrors.Code = "SKILL_UNKNOWN"
	CodeCategoryUnknown xerrors.Code = "SKILL_CATEGORY_UNKNOWN"
)

func init() {
	xerrors.Register(CodeSkillUnknown, xerrors.Attributes{
		Message: "unknown skill", Severity: xerrors.SeverityWarning, Status: http.StatusBadRequest,
	})
	xerrors.Register(CodeCategoryUnknown, xerrors.Attributes{
		Message: "unknown skill category", Severity: xerrors.SeverityWarning, Status: http.StatusBadRequest,
	})
}

// Env 是构造技能实例时可用的 agent 上下文。
type Env struct {
	AgentID string
	Agent   *agentstore.Agent
	Data    *agentstore.AgentData
	Config  agentstore.SkillCategoryConfig
	// Wallet 在钱包未启用或开通失败时为 nil。
	Wallet *wallet.Handle
	Store  Store
}

// Factory 构造某个分类下的单个技能。
type Factory func(skill string, env Env) (Tool, error)

// Category 描述一个技能分类。
type Category struct {
	Name   string
	Skills []string
	// Stateless 分类的实例不依赖 agent 凭据，可在进程内复用。
	Stateless bool
	// RequiresWallet 分类需要已开通的钱包，钱包缺失时整体跳过。
	RequiresWallet bool
	// Required 分类的装配失败会导致整个 agent 构建失败。
	Required bool
	New      Factory
}

// Registry 维护按声明顺序排列的技能分类。
type Registry struct {
	order      []string
	categories map[string]Category
	instances  *lru.Cache[string, Tool]
	log        *slog.Logger
}

// NewRegistry 创建注册表，cacheSize 为无状态实例缓存的容量。
func NewRegistry(cacheSize int) *Registry {
	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, err := lru.New[string, Tool](cacheSize)
	if err != nil {
		panic(fmt.Sprintf("创建技能实例缓存失败: %v", err))
	}
	return &Registry{
		categories: make(map[string]Category),
		instances:  cache,
		log:        logger.Named("skill"),
	}
}

// Register 按调用顺序追加分类，该顺序决定同名工具的覆盖关系。
func (r *Registry) Register(c Category) error {
	if c.Name == "" || c.New == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "技能分类缺少名称或构造函数")
	}
	if _, ok := r.categories[c.Name]; ok {
		return xerrors.New(xerrors.CodeConflict, "技能分类 "+c.Name+" 重复注册")
	}
	c.Skills = slices.Clone(c.Skills)
	r.categories[c.Name] = c
	r.order = append(r.order, c.Name)
	return nil
}

// MustRegister 在注册失败时 panic，用于启动阶段。
func (r *Registry) MustRegister(categories ...Category) {
	for _, c := range categories {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Order 返回分类的声明顺序。
func (r *Registry) Order() []string {
	return slices.Clone(r.order)
}

// Category 返回分类定义。
func (r *Registry) Category(name string) (Category, bool) {
	c, ok := r.categories[name]
	return c, ok
}

// CategorySkills 实现 agentstore.Catalog。
func (r *Registry) CategorySkills(name string) ([]string, bool) {
	c, ok := r.categories[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(c.Skills), true
}

// Visible 判断技能在当前调用方权限下是否可见。
func Visible(state agentstore.SkillState, isPrivate bool) bool {
	switch state {
	case agentstore.StatePublic:
		return true
	case agentstore.StatePrivate:
		return isPrivate
	default:
		return false
	}
}

// Get 返回单个技能实例。无状态分类的实例按 (分类, 技能) 缓存；并发首次构造可能重复，
// 后写入者覆盖缓存，两个实例等价。
func (r *Registry) Get(category, name string, env Env) (Tool, error) {
	c, ok := r.categories[category]
	if !ok {
		return nil, xerrors.New(CodeCategoryUnknown, "未知的技能分类 "+category)
	}
	if !slices.Contains(c.Skills, name) {
		return nil, xerrors.New(CodeSkillUnknown, fmt.Sprintf("技能分类 %s 中不存在技能 %s", category, name),
			xerrors.WithMetadata("category", category), xerrors.WithMetadata("skill", name))
	}
	if !c.Stateless {
		return c.New(name, env)
	}
	key := category + "/" + name
	if tool, ok := r.instances.Get(key); ok {
		return tool, nil
	}
	tool, err := c.New(name, env)
	if err != nil {
		return nil, err
	}
	r.instances.Add(key, tool)
	return tool, nil
}

// Tools 返回分类下所有可见技能。配置中出现未知技能名时整个分类失败；
// 单个技能构造失败只跳过该技能。
func (r *Registry) Tools(category string, env Env, isPrivate bool) ([]Tool, error) {
	c, ok := r.categories[category]
	if !ok {
		return nil, xerrors.New(CodeCategoryUnknown, "未知的技能分类 "+category)
	}
	names := make([]string, 0, len(env.Config.States))
	for name := range env.Config.States {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if !slices.Contains(c.Skills, name) {
			return nil, xerrors.New(CodeSkillUnknown, fmt.Sprintf("技能分类 %s 中不存在技能 %s", category, name),
				xerrors.WithMetadata("category", category), xerrors.WithMetadata("skill", name))
		}
	}

	var tools []Tool
	for _, name := range c.Skills {
		if !Visible(env.Config.States[name], isPrivate) {
			continue
		}
		tool, err := r.Get(category, name, env)
		if err != nil {
			r.log.Warn("技能构造失败，已跳过",
				slog.String("agent_id", env.AgentID),
				slog.String("category", category),
				slog.String("skill", name),
				slog.Any("error", err))
			continue
		}
		tools = append(tools, tool)
	}
	return tools, nil
}
