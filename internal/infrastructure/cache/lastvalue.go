package cache

import (
	"strings"
	"sync"
)

// Entry 某个事件名最后一次写入的值
type Entry struct {
	Event   string
	Payload any
}

// LastValue 每个事件名一个槽位，后写覆盖先写
type LastValue struct {
	mu sync.RWMutex

	order []string
	slots map[string]any
	set   map[string]bool
}

// New 预声明事件的回放顺序，其余事件按首次写入顺序排在后面
func New(events ...string) *LastValue {
	c := &LastValue{
		order: make([]string, 0, len(events)),
		slots: make(map[string]any, len(events)),
		set:   make(map[string]bool, len(events)),
	}
	for _, ev := range events {
		ev = strings.TrimSpace(ev)
		if ev == "" {
			continue
		}
		if _, dup := c.slots[ev]; dup {
			continue
		}
		c.order = append(c.order, ev)
		c.slots[ev] = nil
	}
	return c
}

func (c *LastValue) Set(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.slots[event]; !ok {
		c.order = append(c.order, event)
	}
	c.slots[event] = payload
	c.set[event] = payload != nil
}

func (c *LastValue) Get(event string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set[event] {
		return nil, false
	}
	return c.slots[event], true
}

// Snapshot 按顺序返回所有非空槽位
func (c *LastValue) Snapshot() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.order))
	for _, ev := range c.order {
		if c.set[ev] {
			out = append(out, Entry{Event: ev, Payload: c.slots[ev]})
		}
	}
	return out
}
