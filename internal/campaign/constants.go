package campaign

// 扩展标识
const (
	ExtensionName = "com.adobe.module.campaign"
	FriendlyName  = "Campaign"
)

// 远端接口模板，路径段顺序参与服务端路由，不可调整
const (
	rulesDownloadURLFormat = "https://%s/%s/%s/%s/rules.zip"
	registrationURLFormat  = "https://%s/rest/head/mobileAppV5/%s/subscriptions/%s"
	trackingURLFormat      = "https://%s/r/?id=%s,%s,%s&mcId=%s"

	registrationPlatform = "gcm"

	// LinkageHeaderName 个性化规则下载的鉴权请求头
	LinkageHeaderName = "X-InApp-Auth"
)

// 事件数据键
const (
	keyLinkageFields = "linkagefields"
	keyStateOwner    = "stateowner"

	keyBroadlogID = "broadlogId"
	keyDeliveryID = "deliveryId"
	keyAction     = "action"
)

// 共享状态属主
const (
	identityStateOwner      = "com.adobe.module.identity"
	configurationStateOwner = "com.adobe.module.configuration"
)
