package sig

import "testing"

func TestHub(t *testing.T) {
	h := NewHub()

	t.Run("Connect and Emit", func(t *testing.T) {
		var got []string
		h.Connect("topic.a", func(sender any, params ...any) {
			got = append(got, sender.(string))
		})
		h.Emit("topic.a", "first")
		h.Emit("topic.a", "second")
		h.Emit("topic.b", "other")

		if len(got) != 2 || got[0] != "first" || got[1] != "second" {
			t.Errorf("unexpected deliveries: %v", got)
		}
	})

	t.Run("Disconnect stops delivery", func(t *testing.T) {
		calls := 0
		id := h.Connect("topic.c", func(any, ...any) { calls++ })
		h.Emit("topic.c", nil)
		h.Disconnect("topic.c", id)
		h.Emit("topic.c", nil)

		if calls != 1 {
			t.Errorf("expected 1 call after disconnect, got %d", calls)
		}
	})

	t.Run("Params pass through", func(t *testing.T) {
		var n int
		h.Connect("topic.d", func(sender any, params ...any) {
			n = params[0].(int)
		})
		h.Emit("topic.d", nil, 42)
		if n != 42 {
			t.Errorf("expected param 42, got %d", n)
		}
	})
}
