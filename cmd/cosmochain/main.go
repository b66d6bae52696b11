package main

import (
	`os`

	`go.uber.org/zap`
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cli := NewCLI(sugar)
	if err := cli.Run(os.Args); err != nil {
		sugar.Fatalw("command failed", "error", err)
	}
}
