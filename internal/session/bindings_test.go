package session

import (
	"fmt"
	"testing"
)

func TestBindingTable(t *testing.T) {
	t.Run("同一请求复用绑定", func(t *testing.T) {
		table := newBindingTable(8)
		created := 0
		create := func() *binding {
			created++
			return &binding{}
		}

		first := table.getOrCreate("req-1", create)
		second := table.getOrCreate("req-1", create)
		if first != second {
			t.Error("同一请求应得到同一个绑定")
		}
		if created != 1 {
			t.Errorf("create调用次数 = %d, 期望 1", created)
		}
	})

	t.Run("释放后重新创建", func(t *testing.T) {
		table := newBindingTable(8)
		first := table.getOrCreate("req-1", func() *binding { return &binding{} })
		table.release("req-1")
		if table.len() != 0 {
			t.Errorf("释放后长度 = %d, 期望 0", table.len())
		}
		second := table.getOrCreate("req-1", func() *binding { return &binding{} })
		if first == second {
			t.Error("释放后应创建新的绑定")
		}
	})

	t.Run("超出容量淘汰最久未用", func(t *testing.T) {
		table := newBindingTable(2)
		for i := 0; i < 3; i++ {
			table.getOrCreate(fmt.Sprintf("req-%d", i), func() *binding { return &binding{} })
		}
		if table.len() != 2 {
			t.Errorf("长度 = %d, 期望 2", table.len())
		}
	})
}
