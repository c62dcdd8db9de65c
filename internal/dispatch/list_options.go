package dispatch

// SortOrder 决定列表结果的排序方式。
type SortOrder int

const (
	// SortByUpdatedDesc 按更新时间倒序，最近的在前。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 按更新时间正序。
	SortByUpdatedAsc
)

// ListOptions 控制任务查询的过滤与分页。
type ListOptions struct {
	Limit    int
	Offset   int
	AgentID  string
	ChatID   string
	Statuses []Status
	Order    SortOrder
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回数量。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset 跳过前 n 条匹配结果。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithAgent 只返回指定 agent 的任务。
func WithAgent(agentID string) ListOption {
	return func(opts *ListOptions) {
		opts.AgentID = agentID
	}
}

// WithChat 只返回指定对话的任务。
func WithChat(chatID string) ListOption {
	return func(opts *ListOptions) {
		opts.ChatID = chatID
	}
}

// WithStatuses 按状态过滤。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithSortOrder 修改排序方式。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
