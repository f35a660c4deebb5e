package logger_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/pkg/logger"
)

var _ = Describe("Logger", func() {
	Describe("ParseLevel", func() {
		It("should map configured names to zap levels", func() {
			Expect(logger.ParseLevel("trace")).To(Equal(zap.DebugLevel))
			Expect(logger.ParseLevel("debug")).To(Equal(zap.DebugLevel))
			Expect(logger.ParseLevel("info")).To(Equal(zap.InfoLevel))
			Expect(logger.ParseLevel("warn")).To(Equal(zap.WarnLevel))
			Expect(logger.ParseLevel("error")).To(Equal(zap.ErrorLevel))
			Expect(logger.ParseLevel("fatal")).To(Equal(zap.FatalLevel))
		})

		It("should fall back to info for unknown names", func() {
			Expect(logger.ParseLevel("verbose")).To(Equal(zap.InfoLevel))
			Expect(logger.ParseLevel("")).To(Equal(zap.InfoLevel))
		})
	})

	Describe("NewLoggerWithWriters", func() {
		It("should write to the provided writer", func() {
			var buf bytes.Buffer
			log := logger.NewLoggerWithWriters("info", &buf)

			log.Info("hello", zap.String("component", "test"))
			Expect(log.Sync()).To(Succeed())

			Expect(buf.String()).To(ContainSubstring("hello"))
			Expect(buf.String()).To(ContainSubstring("component"))
		})

		It("should suppress entries below the configured level", func() {
			var buf bytes.Buffer
			log := logger.NewLoggerWithWriters("error", &buf)

			log.Info("quiet")
			Expect(buf.String()).To(BeEmpty())

			log.Error("loud")
			Expect(buf.String()).To(ContainSubstring("loud"))
		})

		It("should fan out to multiple writers", func() {
			var a, b bytes.Buffer
			log := logger.NewLoggerWithWriters("debug", &a, &b)

			log.Debug("both")
			Expect(a.String()).To(ContainSubstring("both"))
			Expect(b.String()).To(ContainSubstring("both"))
		})
	})
})
