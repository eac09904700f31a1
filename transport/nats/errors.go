package nats

type optionError string

func (e optionError) Error() string {
	return "invalid nats option: " + string(e)
}

type envelopeError string

func (e envelopeError) Error() string {
	return "malformed nats envelope: " + string(e)
}
