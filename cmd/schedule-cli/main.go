package main

import (
	"context"

	"eios-backend/cmd/schedule-cli/commands"
	"eios-backend/lib/telemetry"
)

func main() {
	telemetry.InitSlog(true)
	telemetry.SetupFromEnv(context.Background(), "schedule-cli")
	commands.ExecuteContext(context.Background())
}
