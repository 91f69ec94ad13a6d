// Package mqtt provides the MQTT connection used to fan protect state out to
// the rest of the Gray Logic stack.
//
// It wraps paho.mqtt.golang with:
//   - Auto-reconnect with bounded backoff, restoring subscriptions
//   - A retained Last Will on the protect health topic, so consumers see
//     "offline" if the service dies without closing
//   - Payload, topic and QoS validation before publishing
//   - Panic-safe subscription handlers
//
// Topics (see Topics):
//
//	graylogic/state/protect/{model}/{id}   retained entity JSON, empty on remove
//	graylogic/health/protect               retained link health
//	graylogic/command/protect/{action}     inbound requests (e.g. resync)
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(mqtt.Topics{}.ProtectState("camera", "cam-1"), payload)
package mqtt
