package service

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/shared/logging"
)

// safeDeployment is one canonical Safe contract deployment
type safeDeployment struct {
	Version   string
	Name      string
	Addresses []string
}

// safeDeployments is the fixed canonical deployment table, ordered by
// version. Canonical addresses are identical across chains, so one
// UPDATE per address covers every chain at once.
var safeDeployments = []safeDeployment{
	{"1.1.1", "GnosisSafe", []string{"0x34CfAC646f301356fAa8B21e94227e3583Fe3F5F"}},
	{"1.1.1", "MultiSend", []string{"0x8D29bE29923b68abfDD21e541b9374737B49cdAD"}},
	{"1.1.1", "ProxyFactory", []string{"0x76E2cFc1F5Fa8F6a5b3fC4c8F4788F0116861F9B"}},
	{"1.3.0", "GnosisSafe", []string{"0xd9Db270c1B5E3Bd161E8c8503c55cEABeE709552"}},
	{"1.3.0", "GnosisSafeL2", []string{"0x3E5c63644E683549055b9Be8653de26E0B4CD36E"}},
	{"1.3.0", "MultiSend", []string{"0xA238CBeb142c10Ef7Ad8442C6D1f9E89e07e7761"}},
	{"1.3.0", "MultiSendCallOnly", []string{"0x40A2aCCbd92BCA938b02010E17A5b8929b49130D"}},
	{"1.3.0", "GnosisSafeProxyFactory", []string{"0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2"}},
	{"1.3.0", "CompatibilityFallbackHandler", []string{"0xf48f2B2d2a534e402487b3ee7C18c33Aec0Fe5e4"}},
	{"1.3.0", "SignMessageLib", []string{"0xA65387F16B013cf2Af4605Ad8aA5ec25a2cbA3a2"}},
	{"1.3.0", "CreateCall", []string{"0x7cbB62EaA69F79e6873cD1ecB2392971036cFAa4"}},
	{"1.4.1", "Safe", []string{"0x41675C099F32341bf84BFc5382aF534df5C7461a"}},
	{"1.4.1", "SafeL2", []string{"0x29fcB43b46531BcA003ddC8FCB67FFE91900C762"}},
	{"1.4.1", "MultiSend", []string{"0x38869bf66a61cF6bDB996A6aE40D5853Fd43B526"}},
	{"1.4.1", "MultiSendCallOnly", []string{"0x9641d764fc13c8B624c04430C7356C1C7C8102e2"}},
	{"1.4.1", "SafeProxyFactory", []string{"0x4e1DCf7AD4e460CfD30791CCC4F9c8a4f820ec67"}},
	{"1.4.1", "CompatibilityFallbackHandler", []string{"0xfd0732Dc9E303f09fCEf3a7388Ad10A83459Ec99"}},
	{"1.4.1", "SignMessageLib", []string{"0xd53cd0aB83D845Ac265BE939c57F53AD838012c9"}},
	{"1.4.1", "CreateCall", []string{"0x9b35Af71d77eaf8d7e40252370304687390A1A52"}},
	{"1.4.1", "SafeMigration", []string{"0x526643F69b81B008F46d95CD5ced5eC0edFFDaC6"}},
	{"1.4.1", "SafeToL2Migration", []string{"0xfF83F6335d8930cBad1c0D439A841f01888D9f69"}},
}

// SafeContractsService refreshes the display metadata of the well-known
// Safe contract deployments. Runs at startup and hourly.
type SafeContractsService struct {
	contractRepo           domain.ContractRepository
	trustedForDelegateCall map[string]bool
	logger                 *logging.Logger
}

// NewSafeContractsService creates the updater. trustedNames are the
// contract names granted trusted_for_delegate_call.
func NewSafeContractsService(contractRepo domain.ContractRepository, trustedNames []string, logger *logging.Logger) *SafeContractsService {
	trusted := make(map[string]bool, len(trustedNames))
	for _, name := range trustedNames {
		trusted[name] = true
	}
	return &SafeContractsService{
		contractRepo:           contractRepo,
		trustedForDelegateCall: trusted,
		logger:                 logger,
	}
}

// generateSafeContractDisplayName builds the display name: the "Gnosis"
// marker is stripped, "Safe: " is prepended unless the name already
// mentions safe, and the version is appended.
func generateSafeContractDisplayName(contractName, version string) string {
	contractName = strings.ReplaceAll(contractName, "Gnosis", "")
	if !strings.Contains(strings.ToLower(contractName), "safe") {
		return "Safe: " + contractName + " " + version
	}
	return contractName + " " + version
}

// UpdateSafeContractsInfo updates name, display name and delegate call
// trust for every known deployment address across all chains.
func (s *SafeContractsService) UpdateSafeContractsInfo(ctx context.Context) error {
	for _, deployment := range safeDeployments {
		displayName := generateSafeContractDisplayName(deployment.Name, deployment.Version)
		for _, rawAddress := range deployment.Addresses {
			address := common.HexToAddress(rawAddress)
			affectedRows, err := s.contractRepo.UpdateInfo(ctx, address,
				deployment.Name, displayName, s.trustedForDelegateCall[deployment.Name])
			if err != nil {
				return err
			}
			if affectedRows > 0 {
				s.logger.Infof("Updated contract with address: %s in %d chains", rawAddress, affectedRows)
			} else {
				s.logger.Warnf("Could not find any contract with address: %s", rawAddress)
			}
		}
	}
	return nil
}
