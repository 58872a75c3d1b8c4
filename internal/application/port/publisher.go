package port

type Publisher interface {
	// Publish 仅广播，不缓存
	Publish(event string, payload any)
	// Retain 更新该事件的最新值缓存，然后广播
	Retain(event string, payload any)
}
