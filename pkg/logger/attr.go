package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error records err under the key "error". A nil err yields an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	return optionalString("request_id", id)
}

// EventID records the provider event id under the key "event_id".
func EventID(id string) slog.Attr {
	return optionalString("event_id", id)
}

// EventType records the provider event type under the key "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// CustomerID records the provider customer id under the key "customer_id".
func CustomerID(id string) slog.Attr {
	return optionalString("customer_id", id)
}

// SubscriptionID records the provider subscription id under the key "subscription_id".
func SubscriptionID(id string) slog.Attr {
	return optionalString("subscription_id", id)
}

// InvoiceID records the provider invoice id under the key "invoice_id".
func InvoiceID(id string) slog.Attr {
	return optionalString("invoice_id", id)
}

// AccountID records the internal account id under the key "account_id".
// If id is nil, it returns an empty Attr.
func AccountID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("account_id", id)
}

// Stage records a checkout stage under the key "stage".
func Stage(name string) slog.Attr {
	return slog.String("stage", name)
}

// Operation records a record store operation under the key "operation".
func Operation(name string) slog.Attr {
	return slog.String("operation", name)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func optionalString(key, v string) slog.Attr {
	if v == "" {
		return slog.Attr{}
	}
	return slog.String(key, v)
}
