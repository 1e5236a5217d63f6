package admin_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/parley/admin"
	"github.com/luma/parley/registry"
)

var _ = Describe("admin", func() {
	var (
		reg    *registry.Inmemory
		roster *admin.RosterDoc
	)

	BeforeEach(func() {
		reg = registry.NewInmemory()
		roster = admin.NewRosterDoc(zap.NewNop())
		go roster.Follow(reg.ListenToEvents())
	})

	AfterEach(func() {
		reg.Close()
	})

	Describe("RosterDoc", func() {
		It("starts out empty", func() {
			Expect(roster.Get("count").Int()).To(Equal(int64(0)))
		})

		It("tracks joins and leaves", func() {
			Expect(reg.Add("alice", 1)).To(Succeed())
			Expect(reg.Add("bob", 2)).To(Succeed())

			Eventually(func() int64 {
				return roster.Get("count").Int()
			}).Should(Equal(int64(2)))

			Expect(roster.Get("clients.alice.connectedAt").Exists()).To(BeTrue())

			Expect(reg.RemoveByConn(1)).To(Succeed())

			Eventually(func() int64 {
				return roster.Get("count").Int()
			}).Should(Equal(int64(1)))

			Expect(roster.Get("clients.alice").Exists()).To(BeFalse())
			Expect(roster.Get("clients.bob").Exists()).To(BeTrue())
		})

		It("copes with path metacharacters in handles", func() {
			Expect(reg.Add("al.ice", 1)).To(Succeed())

			Eventually(func() int64 {
				return roster.Get("count").Int()
			}).Should(Equal(int64(1)))

			Expect(gjson.GetBytes(roster.Bytes(), `clients.al\.ice.connectedAt`).Exists()).To(BeTrue())
		})
	})

	Describe("NewRouter()", func() {
		var server *httptest.Server

		BeforeEach(func() {
			server = httptest.NewServer(admin.NewRouter(roster, false, zap.NewNop()))
		})

		AfterEach(func() {
			server.Close()
		})

		It("answers ping", func() {
			resp, err := http.Get(server.URL + "/ping")
			Expect(err).To(Succeed())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("serves the roster document", func() {
			Expect(reg.Add("alice", 1)).To(Succeed())

			Eventually(func() int64 {
				resp, err := http.Get(server.URL + "/roster")
				Expect(err).To(Succeed())
				defer resp.Body.Close()

				var body [512]byte
				n, _ := resp.Body.Read(body[:])

				return gjson.GetBytes(body[:n], "count").Int()
			}).Should(Equal(int64(1)))
		})

		It("serves one roster entry and 404s on unknown handles", func() {
			Expect(reg.Add("alice", 1)).To(Succeed())

			Eventually(func() int {
				resp, err := http.Get(server.URL + "/roster/alice")
				Expect(err).To(Succeed())
				resp.Body.Close()

				return resp.StatusCode
			}).Should(Equal(http.StatusOK))

			resp, err := http.Get(server.URL + "/roster/carol")
			Expect(err).To(Succeed())
			resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
