package registry_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/parley/registry"
)

var _ = Describe("registry / Inmemory", func() {
	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(func() { reg.Close() }).NotTo(Panic())
			Expect(func() { reg.Close() }).NotTo(Panic())
		})
	})

	Describe("Add()", func() {
		It("registers a handle and serves both lookups", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(reg.Add("alice", 1)).To(Succeed())

			conn, ok := reg.LookupByHandle("alice")
			Expect(ok).To(BeTrue())
			Expect(conn).To(Equal(registry.ConnID(1)))

			handle, ok := reg.LookupByConn(1)
			Expect(ok).To(BeTrue())
			Expect(handle).To(Equal("alice"))

			Expect(reg.Count()).To(Equal(1))
		})

		It("rejects a duplicate handle and leaves both indices untouched", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(reg.Add("alice", 1)).To(Succeed())
			Expect(reg.Add("alice", 2)).To(MatchError(registry.ErrDuplicateHandle))

			conn, ok := reg.LookupByHandle("alice")
			Expect(ok).To(BeTrue())
			Expect(conn).To(Equal(registry.ConnID(1)))

			_, ok = reg.LookupByConn(2)
			Expect(ok).To(BeFalse())

			Expect(reg.Count()).To(Equal(1))
		})

		It("rejects a second handle on the same connection", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(reg.Add("alice", 1)).To(Succeed())
			Expect(reg.Add("alice2", 1)).To(MatchError(registry.ErrAlreadyRegistered))

			_, ok := reg.LookupByHandle("alice2")
			Expect(ok).To(BeFalse())
		})

		It("is case-sensitive", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(reg.Add("alice", 1)).To(Succeed())
			Expect(reg.Add("Alice", 2)).To(Succeed())
			Expect(reg.Count()).To(Equal(2))
		})
	})

	Describe("RemoveByConn()", func() {
		It("clears both indices", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(reg.Add("alice", 1)).To(Succeed())
			Expect(reg.RemoveByConn(1)).To(Succeed())

			_, ok := reg.LookupByHandle("alice")
			Expect(ok).To(BeFalse())
			_, ok = reg.LookupByConn(1)
			Expect(ok).To(BeFalse())
			Expect(reg.Count()).To(Equal(0))
		})

		It("frees the handle for reuse", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(reg.Add("alice", 1)).To(Succeed())
			Expect(reg.RemoveByConn(1)).To(Succeed())
			Expect(reg.Add("alice", 2)).To(Succeed())
		})

		It("reports an unknown connection", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(reg.RemoveByConn(42)).To(MatchError(registry.ErrNotFound))
		})
	})

	Describe("Snapshot()", func() {
		It("lists entries in registration order", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(reg.Add("alice", 1)).To(Succeed())
			Expect(reg.Add("bob", 2)).To(Succeed())
			Expect(reg.Add("carol", 3)).To(Succeed())

			Expect(reg.Snapshot()).To(Equal([]registry.Entry{
				{Handle: "alice", Conn: 1},
				{Handle: "bob", Conn: 2},
				{Handle: "carol", Conn: 3},
			}))
		})

		It("keeps order across removals", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(reg.Add("alice", 1)).To(Succeed())
			Expect(reg.Add("bob", 2)).To(Succeed())
			Expect(reg.Add("carol", 3)).To(Succeed())
			Expect(reg.RemoveByConn(2)).To(Succeed())

			Expect(reg.Snapshot()).To(Equal([]registry.Entry{
				{Handle: "alice", Conn: 1},
				{Handle: "carol", Conn: 3},
			}))
		})

		It("is a point-in-time copy", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			Expect(reg.Add("alice", 1)).To(Succeed())
			snapshot := reg.Snapshot()

			Expect(reg.RemoveByConn(1)).To(Succeed())
			Expect(snapshot).To(HaveLen(1))
		})
	})

	Describe("ListenToEvents()", func() {
		It("announces joins and leaves", func() {
			reg := registry.NewInmemory()
			defer reg.Close()

			events := reg.ListenToEvents()

			Expect(reg.Add("alice", 1)).To(Succeed())
			Expect(reg.RemoveByConn(1)).To(Succeed())

			event := <-events
			Expect(event).To(Equal(&registry.Event{Kind: registry.Joined, Handle: "alice", Conn: 1}))

			event = <-events
			Expect(event).To(Equal(&registry.Event{Kind: registry.Left, Handle: "alice", Conn: 1}))
		})
	})
})
