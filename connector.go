package dbrouter

import "context"

// DataConnector is the capability set implemented by every backend
// connector.
type DataConnector interface {
	Connect(ctx context.Context) error
	OnConnect(handler func(DataConnector))
	OnError(handler func(error))
	OnClose(handler func())
	State() State
	Close() error
}
