// package main is a module with Sphero RVR base and sensor components.
package main

import (
	"context"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/utils"

	rvrbase "github.com/rafftod/rvr-foraging/base"
	"github.com/rafftod/rvr-foraging/battery"
	"github.com/rafftod/rvr-foraging/groundsensor"
	"github.com/rafftod/rvr-foraging/lightsensor"
	"github.com/rafftod/rvr-foraging/odometry"
)

func main() {
	utils.ContextualMain(mainWithArgs, module.NewLoggerFromArgs("rvr"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	module, err := module.NewModuleFromArgs(ctx)
	if err != nil {
		return err
	}

	if err = module.AddModelFromRegistry(ctx, base.API, rvrbase.Model); err != nil {
		return err
	}

	if err = module.AddModelFromRegistry(ctx, movementsensor.API, odometry.Model); err != nil {
		return err
	}

	if err = module.AddModelFromRegistry(ctx, sensor.API, groundsensor.Model); err != nil {
		return err
	}

	if err = module.AddModelFromRegistry(ctx, sensor.API, lightsensor.Model); err != nil {
		return err
	}

	if err = module.AddModelFromRegistry(ctx, sensor.API, battery.Model); err != nil {
		return err
	}

	err = module.Start(ctx)
	defer module.Close(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
