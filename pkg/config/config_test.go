package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/config"
)

var _ = Describe("Config", func() {
	Describe("defaults", func() {
		It("should populate every default", func() {
			cfg := config.NewDefaultConfig()
			Expect(cfg.Database.URL).To(Equal("file:recall.db"))
			Expect(cfg.Database.MaxConnections).To(Equal(10))
			Expect(cfg.Database.IdleTimeout).To(Equal(30 * time.Second))
			Expect(cfg.Database.CheckoutTimeout).To(Equal(10 * time.Second))
			Expect(cfg.Cache.MaxSize).To(Equal(1000))
			Expect(cfg.Cache.TTL).To(Equal(5 * time.Minute))
			Expect(cfg.Cache.UpdateAgeOnGet).To(BeTrue())
			Expect(cfg.Vector.Dimensions).To(Equal(1536))
			Expect(cfg.Log.Level).To(Equal("info"))
			Expect(cfg.Events.Provider).To(Equal("nop"))
		})
	})

	Describe("Load", func() {
		It("should return defaults when no config file exists", func() {
			cfg, err := config.Load("")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Database.MaxConnections).To(Equal(10))
		})

		It("should merge file values over defaults", func() {
			dir := GinkgoT().TempDir()
			content := []byte(`
[database]
url = "file:custom.db"
max_connections = 3

[vector]
dimensions = 384
`)
			Expect(os.WriteFile(filepath.Join(dir, "config.toml"), content, 0o600)).To(Succeed())

			cfg, err := config.Load(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Database.URL).To(Equal("file:custom.db"))
			Expect(cfg.Database.MaxConnections).To(Equal(3))
			Expect(cfg.Vector.Dimensions).To(Equal(384))

			// Untouched sections keep their defaults.
			Expect(cfg.Cache.MaxSize).To(Equal(1000))
		})
	})

	Describe("ParseTOML", func() {
		It("should fill omitted fields with defaults", func() {
			cfg, err := config.ParseTOML([]byte(`
[log]
level = "debug"
`))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Log.Level).To(Equal("debug"))
			Expect(cfg.Database.URL).To(Equal("file:recall.db"))
		})

		It("should reject malformed TOML", func() {
			_, err := config.ParseTOML([]byte(`not = [valid`))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Save", func() {
		It("should round-trip through Save and Load", func() {
			dir := GinkgoT().TempDir()

			cfg := config.NewDefaultConfig()
			cfg.Database.URL = "file:saved.db"
			cfg.Vector.Dimensions = 768
			Expect(config.Save(cfg, dir)).To(Succeed())

			loaded, err := config.Load(dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Database.URL).To(Equal("file:saved.db"))
			Expect(loaded.Vector.Dimensions).To(Equal(768))
		})

		It("should reject a nil config", func() {
			Expect(config.Save(nil, GinkgoT().TempDir())).NotTo(Succeed())
		})
	})
})
