package wallet

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	xerrors "AgentHub/internal/errors"
)

// KeystoreService 在本地生成密钥，并以 Web3 Secret Storage 格式加密保存。
type KeystoreService struct {
	passphrase string
	scryptN    int
	scryptP    int
}

// NewKeystoreService 创建使用轻量 scrypt 参数的密钥服务。
func NewKeystoreService(passphrase string) *KeystoreService {
	return &KeystoreService{
		passphrase: passphrase,
		scryptN:    keystore.LightScryptN,
		scryptP:    keystore.LightScryptP,
	}
}

// CreateAccount 生成新账户并返回加密后的材料。
func (s *KeystoreService) CreateAccount(_ context.Context, networkID string) (Material, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return Material{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "生成私钥失败")
	}
	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}
	encrypted, err := keystore.EncryptKey(key, s.passphrase, s.scryptN, s.scryptP)
	if err != nil {
		return Material{}, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "加密私钥失败")
	}
	return Material{
		AccountData:      encrypted,
		DefaultAddressID: key.Address.Hex(),
		NetworkID:        networkID,
	}, nil
}

// PrivateKey 解密材料中的私钥，并校验地址一致。
func (s *KeystoreService) PrivateKey(m Material) (*ecdsa.PrivateKey, error) {
	key, err := keystore.DecryptKey(m.AccountData, s.passphrase)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解密钱包失败")
	}
	if key.Address.Hex() != m.DefaultAddressID {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "钱包地址与密钥不一致")
	}
	return key.PrivateKey, nil
}
