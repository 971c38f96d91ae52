// Package main for testing the RVR odometry locally
package main

import (
	"context"
	"time"

	"go.viam.com/rdk/logging"

	"github.com/rafftod/rvr-foraging/odometry"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	ctx := context.Background()
	logger := logging.NewLogger("rvr-local")

	ms, err := odometry.NewOdometry(ctx, logger, "odo", "sim", 100)
	if err != nil {
		return err
	}
	defer func() {
		if err := ms.Close(ctx); err != nil {
			logger.Errorf("close failed: %v", err)
		}
	}()

	for range 30 {
		av, err := ms.AngularVelocity(ctx, nil)
		if err != nil {
			return err
		}
		la, err := ms.LinearAcceleration(ctx, nil)
		if err != nil {
			return err
		}

		logger.Infof("angular velocity: %0.2f %0.2f %0.2f linear acceleration: %0.2f %0.2f %0.2f", av.X, av.Y, av.Z, la.X, la.Y, la.Z)
		time.Sleep(time.Second)
	}
	return nil
}
