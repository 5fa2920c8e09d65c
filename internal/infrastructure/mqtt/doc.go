// Package mqtt provides the MQTT client used for every configured broker.
//
// panelsync talks to one or more brokers at once: the embedded "local"
// broker plus any broker the user defines. Each gets its own Client with
// auto-reconnect, subscription restoration and a retained
// panelsync/system/status topic backed by a Last Will message.
//
// Usage:
//
//	ep, err := mqtt.ParseEndpoint("house", "mqtt://10.0.0.2", 1883, "", "")
//	if err != nil {
//	    return err
//	}
//	client, err := mqtt.Connect(cfg.MQTT, ep)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("buttonplus/+/#", 1, func(topic string, payload []byte) error {
//	    return router.Handle(topic, payload)
//	})
package mqtt
