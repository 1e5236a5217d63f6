package client_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/parley/client"
)

var _ = Describe("ParseCommand()", func() {
	It("rejects lines that do not start with %", func() {
		_, err := client.ParseCommand("hello")
		Expect(err).To(MatchError(client.ErrBadCommand))

		_, err = client.ParseCommand("%")
		Expect(err).To(MatchError(client.ErrBadCommand))
	})

	It("rejects unknown command letters", func() {
		_, err := client.ParseCommand("%Q")
		Expect(err).To(MatchError(client.ErrBadCommand))
	})

	It("rejects run-on command words", func() {
		_, err := client.ParseCommand("%Moo bob hi")
		Expect(err).To(MatchError(client.ErrBadCommand))
	})

	Describe("%M", func() {
		It("parses the destination and the text", func() {
			cmd, err := client.ParseCommand("%M bob hi there")
			Expect(err).To(Succeed())
			Expect(cmd).To(Equal(&client.UnicastCommand{Dest: "bob", Text: "hi there"}))
		})

		It("is case-insensitive on the command letter", func() {
			cmd, err := client.ParseCommand("%m bob hi")
			Expect(err).To(Succeed())
			Expect(cmd).To(Equal(&client.UnicastCommand{Dest: "bob", Text: "hi"}))
		})

		It("allows empty text", func() {
			cmd, err := client.ParseCommand("%M bob")
			Expect(err).To(Succeed())
			Expect(cmd).To(Equal(&client.UnicastCommand{Dest: "bob", Text: ""}))
		})

		It("preserves internal spacing in the text", func() {
			cmd, err := client.ParseCommand("%M bob hi   there  friend")
			Expect(err).To(Succeed())
			Expect(cmd.(*client.UnicastCommand).Text).To(Equal("hi   there  friend"))
		})

		It("requires a destination", func() {
			_, err := client.ParseCommand("%M")
			Expect(err).To(MatchError(client.ErrBadCommand))

			_, err = client.ParseCommand("%M   ")
			Expect(err).To(MatchError(client.ErrBadCommand))
		})
	})

	Describe("%B", func() {
		It("takes the whole remainder as text", func() {
			cmd, err := client.ParseCommand("%B hello  world")
			Expect(err).To(Succeed())
			Expect(cmd).To(Equal(&client.BroadcastCommand{Text: "hello  world"}))
		})

		It("allows empty text", func() {
			cmd, err := client.ParseCommand("%B")
			Expect(err).To(Succeed())
			Expect(cmd).To(Equal(&client.BroadcastCommand{Text: ""}))
		})
	})

	Describe("%C", func() {
		It("parses the destination list and the text", func() {
			cmd, err := client.ParseCommand("%C 3 bob carol dave hey all")
			Expect(err).To(Succeed())
			Expect(cmd).To(Equal(&client.MulticastCommand{
				Dests: []string{"bob", "carol", "dave"},
				Text:  "hey all",
			}))
		})

		It("accepts the bounds 2 and 9", func() {
			cmd, err := client.ParseCommand("%C 2 a b hi")
			Expect(err).To(Succeed())
			Expect(cmd.(*client.MulticastCommand).Dests).To(HaveLen(2))

			cmd, err = client.ParseCommand("%C 9 a b c d e f g h i hi")
			Expect(err).To(Succeed())
			Expect(cmd.(*client.MulticastCommand).Dests).To(HaveLen(9))
		})

		It("rejects counts of 1 and 10", func() {
			_, err := client.ParseCommand("%C 1 bob hi")
			Expect(err).To(MatchError(client.ErrBadCommand))

			_, err = client.ParseCommand("%C 10 a b c d e f g h i j hi")
			Expect(err).To(MatchError(client.ErrBadCommand))
		})

		It("rejects a non-numeric count", func() {
			_, err := client.ParseCommand("%C bob carol hi")
			Expect(err).To(MatchError(client.ErrBadCommand))
		})

		It("rejects a short destination list", func() {
			_, err := client.ParseCommand("%C 3 bob carol")
			Expect(err).To(MatchError(client.ErrBadCommand))
		})
	})

	It("parses %L and %H", func() {
		cmd, err := client.ParseCommand("%L")
		Expect(err).To(Succeed())
		Expect(cmd).To(Equal(&client.ListCommand{}))

		cmd, err = client.ParseCommand("%h")
		Expect(err).To(Succeed())
		Expect(cmd).To(Equal(&client.HelpCommand{}))
	})
})
