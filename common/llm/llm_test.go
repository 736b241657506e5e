package llm_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"propflow.app/assist/common/llm"
)

var _ = Describe("SanitizeName", func() {
	DescribeTable("sanitizes usernames for OpenAI name parameter",
		func(input, expected string) {
			Expect(llm.SanitizeName(input)).To(Equal(expected))
		},
		Entry("valid name unchanged", "alice", "alice"),
		Entry("dots replaced with underscore", "alice.smith", "alice_smith"),
		Entry("@ replaced with underscore", "alice@dev", "alice_dev"),
		Entry("hyphens preserved", "alice-dev", "alice-dev"),
		Entry("underscores preserved", "alice_dev", "alice_dev"),
		Entry("numbers preserved", "alice123", "alice123"),
		Entry("mixed case preserved", "AliceSmith", "AliceSmith"),
		Entry("multiple special chars replaced", "alice.smith@dev!", "alice_smith_dev_"),
		Entry("spaces replaced", "alice smith", "alice_smith"),
		Entry("long name truncated to 64 chars", strings.Repeat("a", 100), strings.Repeat("a", 64)),
		Entry("exactly 64 chars unchanged", strings.Repeat("b", 64), strings.Repeat("b", 64)),
		Entry("empty string unchanged", "", ""),
	)
})

var _ = Describe("ParseToolArguments", func() {
	type createLeadArgs struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}

	It("parses well-formed arguments", func() {
		args, err := llm.ParseToolArguments[createLeadArgs](`{"name":"Max","email":"max@test.de"}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(args.Name).To(Equal("Max"))
		Expect(args.Email).To(Equal("max@test.de"))
	})

	It("rejects truncated argument payloads", func() {
		_, err := llm.ParseToolArguments[createLeadArgs](`{"name":"Max","email":`)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("StreamEvent", func() {
	It("carries indexed tool-call fragments", func() {
		ev := llm.StreamEvent{
			Kind: llm.StreamToolCall,
			ToolCall: &llm.ToolCallDelta{
				Index:          1,
				ID:             "call_1",
				Name:           "create_lead",
				ArgumentsDelta: `{"na`,
			},
		}
		Expect(ev.Kind).To(Equal(llm.StreamToolCall))
		Expect(ev.ToolCall.Index).To(Equal(1))
		Expect(ev.ToolCall.ArgumentsDelta).To(Equal(`{"na`))
	})
})
