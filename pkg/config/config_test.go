package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/parleyhq/parley/pkg/config"
)

var _ = Describe("Load", func() {
	It("returns defaults when no path is given", func() {
		cfg, err := config.Load("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Listen).To(Equal(":8090"))
		Expect(cfg.LLM.Model).To(Equal("deepseek-chat"))
		Expect(cfg.EventStream.Enabled).To(BeFalse())
	})

	It("returns defaults when the file does not exist", func() {
		cfg, err := config.Load(filepath.Join(GinkgoT().TempDir(), "nope.toml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Transcriber.Target).To(Equal("http://localhost:8000"))
	})

	It("overrides defaults with file values and fills the rest", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "parley.toml")
		content := `
[server]
listen = ":9999"

[llm]
model = "gpt-4o-mini"
`
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Listen).To(Equal(":9999"))
		Expect(cfg.LLM.Model).To(Equal("gpt-4o-mini"))
		// Unset fields come from defaults.
		Expect(cfg.Server.UIOrigin).To(Equal("http://localhost:3000"))
		Expect(cfg.LLM.SystemPrompt).NotTo(BeEmpty())
		Expect(cfg.Transcriber.TimeoutSeconds).To(Equal(60))
	})

	It("rejects malformed TOML", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "broken.toml")
		Expect(os.WriteFile(path, []byte("[server\nlisten="), 0o600)).To(Succeed())

		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Parse", func() {
	It("decodes eventstream settings", func() {
		cfg, err := config.Parse([]byte(`
[eventstream]
enabled = true
brokers = ["kafka-1:9092", "kafka-2:9092"]
topic = "chat.turns"
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.EventStream.Enabled).To(BeTrue())
		Expect(cfg.EventStream.Brokers).To(HaveLen(2))
		Expect(cfg.EventStream.Topic).To(Equal("chat.turns"))
	})
})
