package appcontext

import (
	"context"

	"github.com/sirupsen/logrus"
)

type contextId int

const (
	deviceUuidKeyId contextId = iota
	jobIdKeyId
	requestIdKeyId
)

func WithRequestId(ctx context.Context, requestId string) context.Context {
	return context.WithValue(ctx, requestIdKeyId, requestId)
}

func WithJobId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIdKeyId, id)
}

func WithDeviceUuid(ctx context.Context, uuid string) context.Context {
	return context.WithValue(ctx, deviceUuidKeyId, uuid)
}

func LoggerFromContext(logger logrus.FieldLogger, ctx context.Context) logrus.FieldLogger {
	if ctx == nil {
		return logger
	}

	result := logger

	if ctxDeviceUuid, ok := ctx.Value(deviceUuidKeyId).(string); ok && ctxDeviceUuid != "" {
		result = result.WithField("device_uuid", ctxDeviceUuid)
	}

	if ctxJobId, ok := ctx.Value(jobIdKeyId).(string); ok && ctxJobId != "" {
		result = result.WithField("job_id", ctxJobId)
	}

	if ctxRequestId, ok := ctx.Value(requestIdKeyId).(string); ok && ctxRequestId != "" {
		result = result.WithField("request_id", ctxRequestId)
	}

	return result
}
